package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleResult(id string) *model.ExtractionResult {
	price := decimal.RequireFromString("199.48")
	item := model.LineItem{Sequence: 1, VendorCode: "12345", Quantity: 15, UnitPrice: price, InternalCode: "INT-1"}
	item.ComputeTotal()
	return &model.ExtractionResult{
		ID:     id,
		Source: "pedido.pdf",
		Status: model.StateSummarized,
		Identity: model.DocumentIdentity{
			Issuer:         model.IssuerRedeSul,
			Subtype:        model.SubtypePurchaseOrder,
			DocumentNumber: "4500123",
		},
		Branches:      []model.BranchHeader{{TaxID: "12345678000190"}},
		ItemsByBranch: [][]model.LineItem{{item}},
		ProcessedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_Documents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := model.NewDocumentRecord(sampleResult("doc-1"))
	require.NoError(t, st.SaveDocument(ctx, rec))
	// Saving again replaces the record and its items.
	require.NoError(t, st.SaveDocument(ctx, rec))

	got, err := st.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateSummarized, got.Status)
	assert.Equal(t, model.IssuerRedeSul, got.Issuer)
	assert.Equal(t, "4500123", got.DocumentNumber)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Items(), 1)
	assert.True(t, got.Result.Items()[0].LineTotal.Equal(decimal.RequireFromString("2992.20")))

	var items int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM document_items WHERE document_id = ?`, "doc-1").Scan(&items))
	assert.Equal(t, 1, items)

	_, err = st.GetDocument(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListDocuments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	failed := sampleResult("doc-2")
	failed.Status = model.StateFailed
	failed.Identity = model.DocumentIdentity{Issuer: model.IssuerUnknown, Subtype: model.SubtypeUnknown}
	failed.ItemsByBranch = nil
	failed.Branches = nil

	require.NoError(t, st.SaveDocument(ctx, model.NewDocumentRecord(sampleResult("doc-1"))))
	require.NoError(t, st.SaveDocument(ctx, model.NewDocumentRecord(failed)))

	all, err := st.ListDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, d := range all {
		assert.Nil(t, d.Result)
	}

	onlyFailed, err := st.ListDocuments(ctx, DocumentFilter{Status: model.StateFailed})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, "doc-2", onlyFailed[0].ID)

	bySul, err := st.ListDocuments(ctx, DocumentFilter{Issuer: model.IssuerRedeSul, Limit: 10})
	require.NoError(t, err)
	require.Len(t, bySul, 1)
	assert.Equal(t, "doc-1", bySul[0].ID)

	paged, err := st.ListDocuments(ctx, DocumentFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestSQLite_CrossReferences(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertCrossRefs(ctx, []model.CrossReferenceEntry{
		{VendorCode: "12345", InternalCode: "GEN-1", InternalDescription: "WIDGET"},
		{VendorCode: "12345", CustomerTaxID: "12345678000190", InternalCode: "CUS-1", ConversionFactor: decimal.NewFromInt(12)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	e, err := st.LookupCrossRef(ctx, "12345", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "GEN-1", e.InternalCode)
	assert.True(t, e.ConversionFactor.Equal(decimal.NewFromInt(1)))

	e, err = st.LookupCrossRef(ctx, "12345", "12345678000190")
	require.NoError(t, err)
	assert.Equal(t, "CUS-1", e.InternalCode)
	assert.True(t, e.ConversionFactor.Equal(decimal.NewFromInt(12)))

	_, err = st.UpsertCrossRefs(ctx, []model.CrossReferenceEntry{{VendorCode: "12345", InternalCode: "GEN-2"}})
	require.NoError(t, err)
	e, err = st.LookupCrossRef(ctx, "12345", "")
	require.NoError(t, err)
	assert.Equal(t, "GEN-2", e.InternalCode)

	e, err = st.LookupCrossRef(ctx, "99999", "")
	require.NoError(t, err)
	assert.Nil(t, e)

	n, err = st.UpsertCrossRefs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_Customers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertCustomers(ctx, []model.Customer{
		{TaxID: "12345678000190", Name: "LOJA 12", Municipality: "Curitiba", State: "PR"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := st.GetCustomer(ctx, "12345678000190")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Curitiba", c.Municipality)

	c, err = st.GetCustomer(ctx, "0")
	require.NoError(t, err)
	assert.Nil(t, c)
}
