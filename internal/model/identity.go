package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Issuer identifies the retail chain that produced a document.
type Issuer string

const (
	IssuerUnknown      Issuer = "unknown"
	IssuerRedeSul      Issuer = "rede_sul"
	IssuerAtacadoNorte Issuer = "atacado_norte"
	IssuerCasaCentral  Issuer = "casa_central"
)

// AllIssuers returns every known issuer in priority order.
func AllIssuers() []Issuer {
	return []Issuer{
		IssuerRedeSul,
		IssuerAtacadoNorte,
		IssuerCasaCentral,
	}
}

// Known reports whether the issuer is one of AllIssuers.
func (i Issuer) Known() bool {
	for _, k := range AllIssuers() {
		if i == k {
			return true
		}
	}
	return false
}

// DocSubtype distinguishes a preliminary proposal from a confirmed order.
type DocSubtype string

const (
	SubtypeUnknown       DocSubtype = "unknown"
	SubtypePurchaseOrder DocSubtype = "purchase_order"
	SubtypeProposal      DocSubtype = "proposal"
)

// AllSubtypes returns the known subtypes. The order is the tie-break
// priority used by the classifier.
func AllSubtypes() []DocSubtype {
	return []DocSubtype{
		SubtypePurchaseOrder,
		SubtypeProposal,
	}
}

// Known reports whether the subtype is one of AllSubtypes.
func (s DocSubtype) Known() bool {
	for _, k := range AllSubtypes() {
		if s == k {
			return true
		}
	}
	return false
}

// DocumentIdentity is the outcome of classifying a document's text.
// It is built once per document and never mutated.
type DocumentIdentity struct {
	Issuer         Issuer     `json:"issuer"`
	Subtype        DocSubtype `json:"doc_subtype"`
	DocumentNumber string     `json:"document_number,omitempty"`
	Confidence     float64    `json:"confidence"`
	IssuerScore    float64    `json:"issuer_score"`
	SubtypeScore   float64    `json:"subtype_score"`
	Evidence       string     `json:"evidence,omitempty"`
}

// Known reports whether both identity axes resolved.
func (d DocumentIdentity) Known() bool {
	return d.Issuer.Known() && d.Subtype.Known()
}

// FormatKey returns the issuer/subtype pair used to pick an extractor.
func (d DocumentIdentity) FormatKey() FormatKey {
	return FormatKey{Issuer: d.Issuer, Subtype: d.Subtype}
}

// FormatKey selects a Field Extractor: the issuing chain plus the subtype.
type FormatKey struct {
	Issuer  Issuer     `json:"issuer"`
	Subtype DocSubtype `json:"doc_subtype"`
}

func (k FormatKey) String() string {
	return string(k.Issuer) + "/" + string(k.Subtype)
}

// ParseFormatKey parses "issuer/subtype" (e.g. "rede_sul/purchase_order").
func ParseFormatKey(s string) (FormatKey, error) {
	issuer, subtype, ok := strings.Cut(strings.TrimSpace(strings.ToLower(s)), "/")
	if !ok {
		return FormatKey{}, eris.Errorf("model: format %q must look like issuer/subtype", s)
	}
	k := FormatKey{Issuer: Issuer(issuer), Subtype: DocSubtype(subtype)}
	if !k.Issuer.Known() {
		return FormatKey{}, eris.Errorf("model: unknown issuer %q", issuer)
	}
	if !k.Subtype.Known() {
		return FormatKey{}, eris.Errorf("model: unknown document subtype %q", subtype)
	}
	return k, nil
}
