package model

// FormatVariant names a Field Extractor implementation. The set is closed:
// adding a variant means adding a constant here and registering an extractor.
type FormatVariant string

const (
	VariantTabularProposal     FormatVariant = "tabular_proposal"
	VariantMatrixPurchaseOrder FormatVariant = "matrix_purchase_order"
)

// AllFormatVariants returns every variant an extractor registry must cover.
func AllFormatVariants() []FormatVariant {
	return []FormatVariant{
		VariantTabularProposal,
		VariantMatrixPurchaseOrder,
	}
}

// LayoutFamily decides how a document is split into branch sections.
type LayoutFamily string

const (
	// LayoutTabularByTaxID starts a section at each tax-id anchor.
	LayoutTabularByTaxID LayoutFamily = "tabular_by_tax_id"
	// LayoutPaginatedByBranch starts a section whenever the page index resets to 1.
	LayoutPaginatedByBranch LayoutFamily = "paginated_by_branch"
)

// Format binds a FormatKey to the extractor variant and layout family
// that handle it.
type Format struct {
	Key     FormatKey     `json:"key"`
	Variant FormatVariant `json:"variant"`
	Layout  LayoutFamily  `json:"layout"`
}

// BranchSection is a contiguous slice of document text believed to belong
// to one delivery branch. Start and End are byte offsets into the text the
// splitter received.
type BranchSection struct {
	Index int
	Start int
	End   int
	Text  string
}
