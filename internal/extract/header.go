package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

var firstNumber = regexp.MustCompile(`\d+`)

// HeaderExtractor pulls branch header fields out of a section. Each field
// is independent; a missing field stays empty and never fails the header.
type HeaderExtractor struct {
	lib *patterns.Library
}

// NewHeaderExtractor returns a header extractor over lib's field patterns.
func NewHeaderExtractor(lib *patterns.Library) *HeaderExtractor {
	return &HeaderExtractor{lib: lib}
}

// Extract returns the header found in text.
func (h *HeaderExtractor) Extract(text string) model.BranchHeader {
	hdr := model.BranchHeader{Freight: model.FreightUnknown}

	if v := h.field(patterns.FieldTaxID, text); v != "" {
		hdr.TaxID = v
		hdr.FormattedTaxID = model.FormatTaxID(v)
	}
	hdr.BranchName = h.field(patterns.FieldBranchName, text)
	hdr.City = h.field(patterns.FieldCity, text)
	hdr.StateCode = strings.ToUpper(h.field(patterns.FieldStateCode, text))
	hdr.PostalCode = h.field(patterns.FieldPostalCode, text)
	hdr.OrderNumber = h.field(patterns.FieldOrderNumber, text)
	hdr.ProposalNumber = h.field(patterns.FieldProposalNumber, text)
	hdr.DocumentDate = h.field(patterns.FieldDocumentDate, text)
	hdr.PaymentTermDays = PaymentTermDays(h.field(patterns.FieldPaymentTerms, text))
	hdr.Freight = ParseFreight(h.field(patterns.FieldFreight, text))
	return hdr
}

func (h *HeaderExtractor) field(f patterns.Field, text string) string {
	for _, re := range h.lib.Header(f) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v := strings.TrimSpace(m[re.SubexpIndex("v")]); v != "" {
			return v
		}
	}
	return ""
}

// PaymentTermDays returns the first term of a payment schedule such as
// "28/56/84 DDL", or nil when none is printed.
func PaymentTermDays(raw string) *int {
	m := firstNumber.FindString(raw)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// ParseFreight maps printed freight terms to a freight mode.
func ParseFreight(raw string) model.FreightMode {
	v := strings.Join(strings.Fields(patterns.Fold(raw)), " ")
	switch v {
	case "CIF", "PAGO":
		return model.FreightPrepaid
	case "FOB", "A PAGAR":
		return model.FreightCollect
	default:
		return model.FreightUnknown
	}
}
