// Package store persists processed documents, the product cross-reference
// catalog and customer enrichment records.
package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/order-intake/internal/model"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = eris.New("store: not found")

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status model.ProcessState `json:"status,omitempty"`
	Issuer model.Issuer       `json:"issuer,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

func (f DocumentFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for the intake pipeline.
type Store interface {
	// Documents. SaveDocument replaces any earlier record with the same ID
	// together with its item rows. ListDocuments omits the full result.
	SaveDocument(ctx context.Context, rec *model.DocumentRecord) error
	GetDocument(ctx context.Context, id string) (*model.DocumentRecord, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error)

	// Cross-reference catalog. An empty customerTaxID is the generic entry;
	// a missing entry is (nil, nil).
	LookupCrossRef(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error)
	UpsertCrossRefs(ctx context.Context, entries []model.CrossReferenceEntry) (int64, error)

	// Customers. A missing customer is (nil, nil).
	GetCustomer(ctx context.Context, taxID string) (*model.Customer, error)
	UpsertCustomers(ctx context.Context, customers []model.Customer) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// itemRow flattens one accepted line for the document_items table.
type itemRow struct {
	branchIndex  int
	branchTaxID  string
	seq          int
	vendorCode   string
	internalCode string
	quantity     int64
	unitPrice    decimal.Decimal
	lineTotal    decimal.Decimal
}

func itemRows(r *model.ExtractionResult) []itemRow {
	if r == nil {
		return nil
	}
	var rows []itemRow
	for bi, items := range r.ItemsByBranch {
		taxID := ""
		if bi < len(r.Branches) {
			taxID = r.Branches[bi].TaxID
		}
		for _, it := range items {
			rows = append(rows, itemRow{
				branchIndex:  bi + 1,
				branchTaxID:  taxID,
				seq:          it.Sequence,
				vendorCode:   it.VendorCode,
				internalCode: it.InternalCode,
				quantity:     it.Quantity,
				unitPrice:    it.UnitPrice,
				lineTotal:    it.LineTotal,
			})
		}
	}
	return rows
}
