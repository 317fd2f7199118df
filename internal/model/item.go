package model

import "github.com/shopspring/decimal"

// LineItem is one product line of a branch section.
type LineItem struct {
	Sequence             int             `json:"sequence_number"`
	VendorCode           string          `json:"vendor_code"`
	VendorCodeNormalized string          `json:"vendor_code_normalized"`
	Description          string          `json:"description"`
	Package              string          `json:"package_descriptor,omitempty"`
	DeliveryDate         string          `json:"delivery_date,omitempty"`
	Quantity             int64           `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	LineTotal            decimal.Decimal `json:"line_total"`
	InternalCode         string          `json:"internal_code,omitempty"`
	InternalDescription  string          `json:"internal_description,omitempty"`
	ConversionFactor     decimal.Decimal `json:"conversion_factor"`
}

// ComputeTotal derives LineTotal from Quantity and UnitPrice. Totals printed
// on the source document are never used.
func (li *LineItem) ComputeTotal() {
	li.LineTotal = li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Valid reports whether the line passes structural validation.
func (li LineItem) Valid() bool {
	return li.Quantity > 0 && li.UnitPrice.IsPositive() && li.VendorCode != ""
}

// Resolved reports whether the vendor code mapped to an internal code.
func (li LineItem) Resolved() bool {
	return li.InternalCode != ""
}

// ApplyCrossReference copies a resolution onto the line.
func (li *LineItem) ApplyCrossReference(r CrossReferenceResult) {
	li.InternalCode = r.InternalCode
	li.InternalDescription = r.InternalDescription
	li.ConversionFactor = r.Factor()
}

// CrossReferenceEntry maps a vendor code to an internal catalog code.
// An empty CustomerTaxID marks the generic entry.
type CrossReferenceEntry struct {
	VendorCode          string          `json:"vendor_code"`
	CustomerTaxID       string          `json:"customer_tax_id,omitempty"`
	InternalCode        string          `json:"internal_code"`
	InternalDescription string          `json:"internal_description,omitempty"`
	ConversionFactor    decimal.Decimal `json:"conversion_factor"`
}

// Generic reports whether the entry applies to every customer.
func (e CrossReferenceEntry) Generic() bool {
	return e.CustomerTaxID == ""
}

// Result converts the entry into a resolution.
func (e CrossReferenceEntry) Result() CrossReferenceResult {
	return CrossReferenceResult{
		InternalCode:        e.InternalCode,
		InternalDescription: e.InternalDescription,
		ConversionFactor:    e.ConversionFactor,
	}
}

// CrossReferenceResult is the outcome of resolving one vendor code. An
// empty InternalCode is a miss.
type CrossReferenceResult struct {
	InternalCode        string          `json:"internal_code,omitempty"`
	InternalDescription string          `json:"internal_description,omitempty"`
	ConversionFactor    decimal.Decimal `json:"conversion_factor"`
}

// Found reports whether the resolution produced an internal code.
func (r CrossReferenceResult) Found() bool {
	return r.InternalCode != ""
}

// Factor returns the conversion factor, defaulting to 1.
func (r CrossReferenceResult) Factor() decimal.Decimal {
	if r.ConversionFactor.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r.ConversionFactor
}
