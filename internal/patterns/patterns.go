// Package patterns holds the declarative pattern library used to classify
// documents, split them into branch sections and extract their fields.
package patterns

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/order-intake/internal/model"
)

//go:embed library.yaml
var defaultLibrary []byte

// Field names a header field extracted from a branch section.
type Field string

const (
	FieldTaxID          Field = "tax_id"
	FieldBranchName     Field = "branch_name"
	FieldCity           Field = "city"
	FieldStateCode      Field = "state_code"
	FieldPostalCode     Field = "postal_code"
	FieldOrderNumber    Field = "order_number"
	FieldProposalNumber Field = "proposal_number"
	FieldDocumentDate   Field = "document_date"
	FieldPaymentTerms   Field = "payment_terms"
	FieldFreight        Field = "freight"
)

// AllFields returns every header field in extraction order.
func AllFields() []Field {
	return []Field{
		FieldTaxID, FieldBranchName, FieldCity, FieldStateCode, FieldPostalCode,
		FieldOrderNumber, FieldProposalNumber, FieldDocumentDate,
		FieldPaymentTerms, FieldFreight,
	}
}

// WeightedPattern is one subtype signal.
type WeightedPattern struct {
	Name   string
	Regex  *regexp.Regexp
	Weight float64
}

// IssuerPatterns identifies one issuing chain.
type IssuerPatterns struct {
	Issuer     model.Issuer
	Name       string
	TaxIDRoots []string
	Brands     []*regexp.Regexp
}

// SubtypePatterns scores one document subtype.
type SubtypePatterns struct {
	Subtype  model.DocSubtype
	Patterns []WeightedPattern
}

// TotalWeight is the normalization denominator for the subtype score.
func (s SubtypePatterns) TotalWeight() float64 {
	var total float64
	for _, p := range s.Patterns {
		total += p.Weight
	}
	return total
}

// NumberPattern extracts a document number for one issuer and subtype.
type NumberPattern struct {
	Key   model.FormatKey
	Regex *regexp.Regexp
}

// FormatSpec is the extractor and splitting configuration for a format.
// Anchor is nil when the generic tax-id pattern should be used.
type FormatSpec struct {
	Format model.Format
	Anchor *regexp.Regexp
}

// Library is the compiled pattern library. It is immutable after Load and
// safe for concurrent use.
type Library struct {
	TaxID      *regexp.Regexp
	PageMarker *regexp.Regexp

	Issuers         []IssuerPatterns
	Subtypes        []SubtypePatterns
	SpecificNumbers []NumberPattern
	GenericNumbers  []*regexp.Regexp

	formats map[model.FormatKey]FormatSpec
	headers map[Field][]*regexp.Regexp
	lines   map[model.FormatVariant]map[string]*regexp.Regexp
}

// Format returns the format spec registered for key.
func (l *Library) Format(key model.FormatKey) (FormatSpec, bool) {
	fs, ok := l.formats[key]
	return fs, ok
}

// Formats returns every registered format spec.
func (l *Library) Formats() []FormatSpec {
	out := make([]FormatSpec, 0, len(l.formats))
	for _, issuer := range model.AllIssuers() {
		for _, subtype := range model.AllSubtypes() {
			if fs, ok := l.formats[model.FormatKey{Issuer: issuer, Subtype: subtype}]; ok {
				out = append(out, fs)
			}
		}
	}
	return out
}

// Header returns the ordered patterns for a header field.
func (l *Library) Header(f Field) []*regexp.Regexp {
	return l.headers[f]
}

// Line returns a named line pattern for a variant, or nil.
func (l *Library) Line(v model.FormatVariant, name string) *regexp.Regexp {
	return l.lines[v][name]
}

// IssuerName returns the display name of an issuer.
func (l *Library) IssuerName(i model.Issuer) string {
	for _, ip := range l.Issuers {
		if ip.Issuer == i {
			return ip.Name
		}
	}
	return string(i)
}

type rawLibrary struct {
	Shared struct {
		TaxID      string `yaml:"tax_id"`
		PageMarker string `yaml:"page_marker"`
	} `yaml:"shared"`
	Issuers []struct {
		Key        string   `yaml:"key"`
		Name       string   `yaml:"name"`
		TaxIDRoots []string `yaml:"tax_id_roots"`
		Brands     []string `yaml:"brands"`
	} `yaml:"issuers"`
	Subtypes []struct {
		Key      string `yaml:"key"`
		Patterns []struct {
			Name   string  `yaml:"name"`
			Regex  string  `yaml:"regex"`
			Weight float64 `yaml:"weight"`
		} `yaml:"patterns"`
	} `yaml:"subtypes"`
	DocumentNumbers struct {
		Specific []struct {
			Issuer  string `yaml:"issuer"`
			Subtype string `yaml:"subtype"`
			Regex   string `yaml:"regex"`
		} `yaml:"specific"`
		Generic []string `yaml:"generic"`
	} `yaml:"document_numbers"`
	Formats []struct {
		Issuer  string `yaml:"issuer"`
		Subtype string `yaml:"subtype"`
		Variant string `yaml:"variant"`
		Layout  string `yaml:"layout"`
		Anchor  string `yaml:"anchor"`
	} `yaml:"formats"`
	HeaderFields map[string][]string          `yaml:"header_fields"`
	LinePatterns map[string]map[string]string `yaml:"line_patterns"`
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Default returns the embedded library, compiled once per process.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Load(defaultLibrary)
	})
	return defaultLib, defaultErr
}

// MustDefault is Default for callers that cannot proceed without it.
func MustDefault() *Library {
	lib, err := Default()
	if err != nil {
		panic(err)
	}
	return lib
}

// Load parses and compiles a YAML pattern library.
func Load(data []byte) (*Library, error) {
	var raw rawLibrary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "patterns: parse library")
	}

	c := &compiler{}
	lib := &Library{
		TaxID:      c.compile("shared.tax_id", raw.Shared.TaxID),
		PageMarker: c.compile("shared.page_marker", raw.Shared.PageMarker),
		formats:    make(map[model.FormatKey]FormatSpec),
		headers:    make(map[Field][]*regexp.Regexp),
		lines:      make(map[model.FormatVariant]map[string]*regexp.Regexp),
	}

	for _, ri := range raw.Issuers {
		issuer := model.Issuer(ri.Key)
		if !issuer.Known() {
			return nil, eris.Errorf("patterns: unknown issuer %q", ri.Key)
		}
		ip := IssuerPatterns{Issuer: issuer, Name: ri.Name, TaxIDRoots: ri.TaxIDRoots}
		for i, b := range ri.Brands {
			ip.Brands = append(ip.Brands, c.compilef(b, "issuers.%s.brands[%d]", ri.Key, i))
		}
		lib.Issuers = append(lib.Issuers, ip)
	}

	for _, rs := range raw.Subtypes {
		subtype := model.DocSubtype(rs.Key)
		if !subtype.Known() {
			return nil, eris.Errorf("patterns: unknown subtype %q", rs.Key)
		}
		sp := SubtypePatterns{Subtype: subtype}
		for _, p := range rs.Patterns {
			if p.Weight <= 0 {
				return nil, eris.Errorf("patterns: subtypes.%s.%s: weight must be positive", rs.Key, p.Name)
			}
			sp.Patterns = append(sp.Patterns, WeightedPattern{
				Name:   p.Name,
				Regex:  c.compilef(p.Regex, "subtypes.%s.%s", rs.Key, p.Name),
				Weight: p.Weight,
			})
		}
		lib.Subtypes = append(lib.Subtypes, sp)
	}

	for i, rn := range raw.DocumentNumbers.Specific {
		key := model.FormatKey{Issuer: model.Issuer(rn.Issuer), Subtype: model.DocSubtype(rn.Subtype)}
		if !key.Issuer.Known() || !key.Subtype.Known() {
			return nil, eris.Errorf("patterns: document_numbers.specific[%d]: unknown format %s", i, key)
		}
		lib.SpecificNumbers = append(lib.SpecificNumbers, NumberPattern{
			Key:   key,
			Regex: c.compilef(rn.Regex, "document_numbers.specific[%d]", i),
		})
	}
	for i, g := range raw.DocumentNumbers.Generic {
		lib.GenericNumbers = append(lib.GenericNumbers, c.compilef(g, "document_numbers.generic[%d]", i))
	}

	for _, rf := range raw.Formats {
		key := model.FormatKey{Issuer: model.Issuer(rf.Issuer), Subtype: model.DocSubtype(rf.Subtype)}
		if !key.Issuer.Known() || !key.Subtype.Known() {
			return nil, eris.Errorf("patterns: formats: unknown format %s", key)
		}
		variant := model.FormatVariant(rf.Variant)
		if !knownVariant(variant) {
			return nil, eris.Errorf("patterns: formats.%s: unknown variant %q", key, rf.Variant)
		}
		layout := model.LayoutFamily(rf.Layout)
		if layout != model.LayoutTabularByTaxID && layout != model.LayoutPaginatedByBranch {
			return nil, eris.Errorf("patterns: formats.%s: unknown layout %q", key, rf.Layout)
		}
		fs := FormatSpec{Format: model.Format{Key: key, Variant: variant, Layout: layout}}
		if rf.Anchor != "" {
			fs.Anchor = c.compilef(rf.Anchor, "formats.%s.anchor", key)
		}
		lib.formats[key] = fs
	}

	for _, f := range AllFields() {
		for i, p := range raw.HeaderFields[string(f)] {
			re := c.compilef(p, "header_fields.%s[%d]", f, i)
			if re != nil && re.SubexpIndex("v") < 0 {
				return nil, eris.Errorf("patterns: header_fields.%s[%d]: missing named group v", f, i)
			}
			lib.headers[f] = append(lib.headers[f], re)
		}
	}

	for v, named := range raw.LinePatterns {
		variant := model.FormatVariant(v)
		if !knownVariant(variant) {
			return nil, eris.Errorf("patterns: line_patterns: unknown variant %q", v)
		}
		lib.lines[variant] = make(map[string]*regexp.Regexp, len(named))
		for name, p := range named {
			lib.lines[variant][name] = c.compilef(p, "line_patterns.%s.%s", v, name)
		}
	}

	if c.err != nil {
		return nil, c.err
	}
	return lib, nil
}

func knownVariant(v model.FormatVariant) bool {
	for _, k := range model.AllFormatVariants() {
		if v == k {
			return true
		}
	}
	return false
}

// compiler keeps the first compile error so Load can report every pattern
// through one code path.
type compiler struct {
	err error
}

func (c *compiler) compile(name, expr string) *regexp.Regexp {
	if c.err != nil {
		return nil
	}
	if expr == "" {
		c.err = eris.Errorf("patterns: %s: empty pattern", name)
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		c.err = eris.Wrapf(err, "patterns: compile %s", name)
		return nil
	}
	return re
}

func (c *compiler) compilef(expr, format string, args ...any) *regexp.Regexp {
	return c.compile(fmt.Sprintf(format, args...), expr)
}
