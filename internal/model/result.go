package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessState is a step of the per-document state machine.
type ProcessState string

const (
	StateReceived    ProcessState = "received"
	StateClassified  ProcessState = "classified"
	StateSplit       ProcessState = "split"
	StateExtracting  ProcessState = "extracting"
	StateNormalizing ProcessState = "normalizing"
	StateValidated   ProcessState = "validated"
	StateSummarized  ProcessState = "summarized"
	StateFailed      ProcessState = "failed"
)

// Terminal reports whether no further transition follows the state.
func (s ProcessState) Terminal() bool {
	return s == StateSummarized || s == StateFailed
}

// ExtractionResult is the document-level aggregate returned by the pipeline.
// Branches and ItemsByBranch are paired by index.
type ExtractionResult struct {
	ID            string           `json:"id"`
	Source        string           `json:"source,omitempty"`
	Status        ProcessState     `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	States        []ProcessState   `json:"states"`
	Format        *Format          `json:"format,omitempty"`
	Identity      DocumentIdentity `json:"identity"`
	Branches      []BranchHeader   `json:"branches"`
	ItemsByBranch [][]LineItem     `json:"items_by_branch"`
	Errors        []string         `json:"errors"`
	Warnings      []string         `json:"warnings"`
	Summary       DocumentSummary  `json:"summary"`
	ProcessedAt   time.Time        `json:"processed_at"`
}

// Failed reports whether the pipeline ended in the Failed state.
func (r *ExtractionResult) Failed() bool {
	return r.Status == StateFailed
}

// Items returns every accepted line item in branch order.
func (r *ExtractionResult) Items() []LineItem {
	var out []LineItem
	for _, items := range r.ItemsByBranch {
		out = append(out, items...)
	}
	return out
}

// DocumentSummary is derived from the accepted items of a result.
type DocumentSummary struct {
	TotalItems                 int             `json:"total_items"`
	TotalBranches              int             `json:"total_branches"`
	DistinctProducts           int             `json:"distinct_products"`
	TotalQuantity              int64           `json:"total_quantity"`
	TotalValue                 decimal.Decimal `json:"total_value"`
	ItemsWithoutCrossReference int             `json:"items_without_cross_reference"`
	Branches                   []BranchSummary `json:"branches"`
}

// BranchSummary is the per-branch breakdown. Items whose branch has no
// tax id share the bucket with an empty TaxID.
type BranchSummary struct {
	TaxID          string          `json:"tax_id,omitempty"`
	FormattedTaxID string          `json:"formatted_tax_id,omitempty"`
	BranchName     string          `json:"delivery_branch_name,omitempty"`
	OrderNumber    string          `json:"order_number,omitempty"`
	ItemCount      int             `json:"item_count"`
	Quantity       int64           `json:"quantity"`
	Value          decimal.Decimal `json:"value"`
	Unresolved     int             `json:"unresolved_codes"`
}

// DocumentRecord is a persisted pipeline result.
type DocumentRecord struct {
	ID             string            `json:"id"`
	Source         string            `json:"source"`
	Status         ProcessState      `json:"status"`
	Issuer         Issuer            `json:"issuer"`
	Subtype        DocSubtype        `json:"doc_subtype"`
	DocumentNumber string            `json:"document_number,omitempty"`
	Result         *ExtractionResult `json:"result,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewDocumentRecord builds a record from a finished result.
func NewDocumentRecord(r *ExtractionResult) *DocumentRecord {
	return &DocumentRecord{
		ID:             r.ID,
		Source:         r.Source,
		Status:         r.Status,
		Issuer:         r.Identity.Issuer,
		Subtype:        r.Identity.Subtype,
		DocumentNumber: r.Identity.DocumentNumber,
		Result:         r,
		CreatedAt:      r.ProcessedAt,
	}
}
