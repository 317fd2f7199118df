package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllIssuers(t *testing.T) {
	t.Parallel()

	issuers := AllIssuers()
	assert.Equal(t, []Issuer{IssuerRedeSul, IssuerAtacadoNorte, IssuerCasaCentral}, issuers)
	for _, i := range issuers {
		assert.True(t, i.Known(), "issuer %s", i)
	}
	assert.False(t, IssuerUnknown.Known())
	assert.False(t, Issuer("other").Known())
}

func TestAllSubtypes_PriorityOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []DocSubtype{SubtypePurchaseOrder, SubtypeProposal}, AllSubtypes())
	assert.False(t, SubtypeUnknown.Known())
}

func TestDocumentIdentity_Known(t *testing.T) {
	t.Parallel()

	id := DocumentIdentity{Issuer: IssuerRedeSul, Subtype: SubtypeProposal}
	assert.True(t, id.Known())
	assert.Equal(t, FormatKey{Issuer: IssuerRedeSul, Subtype: SubtypeProposal}, id.FormatKey())

	id.Subtype = SubtypeUnknown
	assert.False(t, id.Known())
}

func TestParseFormatKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    FormatKey
		wantErr string
	}{
		{name: "valid", in: "rede_sul/purchase_order", want: FormatKey{IssuerRedeSul, SubtypePurchaseOrder}},
		{name: "case and spaces", in: "  CASA_CENTRAL/Proposal ", want: FormatKey{IssuerCasaCentral, SubtypeProposal}},
		{name: "no separator", in: "rede_sul", wantErr: "issuer/subtype"},
		{name: "unknown issuer", in: "acme/proposal", wantErr: "unknown issuer"},
		{name: "unknown subtype", in: "rede_sul/invoice", wantErr: "unknown document subtype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormatKey(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			roundTrip, err := ParseFormatKey(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, roundTrip)
		})
	}
}

func TestFormatKey_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "atacado_norte/proposal", FormatKey{IssuerAtacadoNorte, SubtypeProposal}.String())
}

func TestFormatTaxID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"93209765059944", "93.209.765/0599-44"},
		{"93.209.765/0599-44", "93.209.765/0599-44"},
		{"93209765/0599-44", "93.209.765/0599-44"},
		{" 1234 ", "1234"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTaxID(tt.in), "input %q", tt.in)
	}
}

func TestTaxIDRoot(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "93209765", TaxIDRoot("93.209.765/0599-44"))
	assert.Equal(t, "", TaxIDRoot("1234"))
	assert.Equal(t, "123", DigitsOnly("a1b2-3"))
}

func TestBranchHeader(t *testing.T) {
	t.Parallel()

	days := 30
	h := BranchHeader{TaxID: "93209765059944", ProposalNumber: "P-1", PaymentTermDays: &days, Freight: FreightPrepaid}
	assert.Equal(t, "P-1", h.Number())
	assert.Equal(t, 4, h.FieldCount())

	h.OrderNumber = "4500"
	assert.Equal(t, "4500", h.Number())

	h.ApplyCustomer(nil)
	assert.Empty(t, h.CustomerName)

	h.ApplyCustomer(&Customer{Name: "Loja 12", Municipality: "Canoas", State: "RS"})
	assert.Equal(t, "Loja 12", h.CustomerName)
	assert.Equal(t, "Canoas", h.Municipality)
	assert.Equal(t, "RS", h.State)
}

func TestLineItem_ComputeTotal(t *testing.T) {
	t.Parallel()

	li := LineItem{VendorCode: "12345", Quantity: 15, UnitPrice: decimal.RequireFromString("199.48"), LineTotal: decimal.NewFromInt(1)}
	li.ComputeTotal()
	assert.True(t, li.LineTotal.Equal(decimal.RequireFromString("2992.20")), li.LineTotal.String())
	assert.True(t, li.Valid())

	li.Quantity = 0
	assert.False(t, li.Valid())
}

func TestLineItem_ApplyCrossReference(t *testing.T) {
	t.Parallel()

	var li LineItem
	li.ApplyCrossReference(CrossReferenceResult{InternalCode: "INT-1"})
	assert.True(t, li.Resolved())
	assert.True(t, li.ConversionFactor.Equal(decimal.NewFromInt(1)))

	entry := CrossReferenceEntry{VendorCode: "1", InternalCode: "INT-2", ConversionFactor: decimal.NewFromInt(12)}
	assert.True(t, entry.Generic())
	li.ApplyCrossReference(entry.Result())
	assert.Equal(t, "INT-2", li.InternalCode)
	assert.True(t, li.ConversionFactor.Equal(decimal.NewFromInt(12)))

	assert.False(t, CrossReferenceResult{}.Found())
}

func TestExtractionResult(t *testing.T) {
	t.Parallel()

	r := &ExtractionResult{
		ID:     "doc-1",
		Status: StateSummarized,
		Identity: DocumentIdentity{
			Issuer: IssuerRedeSul, Subtype: SubtypePurchaseOrder, DocumentNumber: "4500",
		},
		ItemsByBranch: [][]LineItem{{{VendorCode: "1"}}, {}, {{VendorCode: "2"}, {VendorCode: "3"}}},
	}
	assert.False(t, r.Failed())
	assert.Len(t, r.Items(), 3)
	assert.True(t, StateSummarized.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSplit.Terminal())

	rec := NewDocumentRecord(r)
	assert.Equal(t, "doc-1", rec.ID)
	assert.Equal(t, IssuerRedeSul, rec.Issuer)
	assert.Equal(t, "4500", rec.DocumentNumber)
	assert.Same(t, r, rec.Result)
}
