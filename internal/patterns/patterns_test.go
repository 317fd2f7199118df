package patterns

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/model"
)

func TestDefault_Compiles(t *testing.T) {
	t.Parallel()

	lib, err := Default()
	require.NoError(t, err)
	require.NotNil(t, lib)

	assert.NotNil(t, lib.TaxID)
	assert.NotNil(t, lib.PageMarker)
	assert.Len(t, lib.Issuers, len(model.AllIssuers()))

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, lib, again)
}

func TestDefault_DeclarationOrder(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	var issuers []model.Issuer
	for _, ip := range lib.Issuers {
		issuers = append(issuers, ip.Issuer)
	}
	assert.Equal(t, model.AllIssuers(), issuers)

	var subtypes []model.DocSubtype
	for _, sp := range lib.Subtypes {
		subtypes = append(subtypes, sp.Subtype)
		assert.InDelta(t, 1.0, sp.TotalWeight(), 1e-9, "subtype %s", sp.Subtype)
	}
	assert.Equal(t, model.AllSubtypes(), subtypes)
}

func TestDefault_EveryFormatRegistered(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	for _, issuer := range model.AllIssuers() {
		for _, subtype := range model.AllSubtypes() {
			key := model.FormatKey{Issuer: issuer, Subtype: subtype}
			fs, ok := lib.Format(key)
			require.True(t, ok, "format %s", key)
			assert.Equal(t, key, fs.Format.Key)
		}
	}
	assert.Len(t, lib.Formats(), len(model.AllIssuers())*len(model.AllSubtypes()))

	fs, _ := lib.Format(model.FormatKey{Issuer: model.IssuerRedeSul, Subtype: model.SubtypePurchaseOrder})
	assert.Equal(t, model.VariantMatrixPurchaseOrder, fs.Format.Variant)
	assert.Equal(t, model.LayoutPaginatedByBranch, fs.Format.Layout)
	assert.Nil(t, fs.Anchor)

	fs, _ = lib.Format(model.FormatKey{Issuer: model.IssuerRedeSul, Subtype: model.SubtypeProposal})
	assert.Equal(t, model.VariantTabularProposal, fs.Format.Variant)
	assert.NotNil(t, fs.Anchor)
}

func TestDefault_TabularFormatsAnchorOnBranch(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	issuerLine := "ATACADO NORTE DISTRIBUIDORA CNPJ 45.123.987/0001-20"
	branchLine := "CNPJ DA LOJA: 45.123.987/0011-91"
	for _, fs := range lib.Formats() {
		if fs.Format.Layout != model.LayoutTabularByTaxID {
			continue
		}
		require.NotNil(t, fs.Anchor, "format %s", fs.Format.Key)
		assert.False(t, fs.Anchor.MatchString(issuerLine), "format %s", fs.Format.Key)
		assert.True(t, fs.Anchor.MatchString(branchLine), "format %s", fs.Format.Key)
	}
}

func TestDefault_LinePatterns(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	for _, name := range []string{"strict", "relaxed", "block"} {
		assert.NotNil(t, lib.Line(model.VariantTabularProposal, name), name)
	}
	for _, name := range []string{"description", "code", "block"} {
		assert.NotNil(t, lib.Line(model.VariantMatrixPurchaseOrder, name), name)
	}
	assert.Nil(t, lib.Line(model.VariantMatrixPurchaseOrder, "strict"))
}

func TestDefault_HeaderPatterns(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	for _, f := range AllFields() {
		assert.NotEmpty(t, lib.Header(f), "field %s", f)
	}
}

func TestDefault_SharedPatterns(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	assert.True(t, lib.TaxID.MatchString("93.209.765/0599-44"))
	assert.True(t, lib.TaxID.MatchString("93209765059944"))
	assert.False(t, lib.TaxID.MatchString("1234"))

	m := lib.PageMarker.FindStringSubmatch("Página: 2 de 3")
	require.NotNil(t, m)
	named := Named(lib.PageMarker, m)
	assert.Equal(t, "2", named["page"])
	assert.Equal(t, "3", named["total"])

	m = lib.PageMarker.FindStringSubmatch("PAG. 1/4")
	require.NotNil(t, m)
	assert.Equal(t, "1", Named(lib.PageMarker, m)["page"])
}

func TestIssuerName(t *testing.T) {
	t.Parallel()

	lib := MustDefault()
	assert.Equal(t, "Rede Sul Supermercados", lib.IssuerName(model.IssuerRedeSul))
	assert.Equal(t, "unknown", lib.IssuerName(model.IssuerUnknown))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad yaml",
			yaml:    "issuers: [",
			wantErr: "parse library",
		},
		{
			name:    "missing shared",
			yaml:    "issuers: []",
			wantErr: "shared.tax_id: empty pattern",
		},
		{
			name: "bad regex named",
			yaml: `
shared: {tax_id: '\d+', page_marker: 'PAG'}
subtypes:
  - key: proposal
    patterns:
      - {name: title, regex: '(', weight: 1}
`,
			wantErr: "subtypes.proposal.title",
		},
		{
			name: "unknown issuer",
			yaml: `
shared: {tax_id: '\d+', page_marker: 'PAG'}
issuers:
  - {key: acme, name: Acme}
`,
			wantErr: `unknown issuer "acme"`,
		},
		{
			name: "zero weight",
			yaml: `
shared: {tax_id: '\d+', page_marker: 'PAG'}
subtypes:
  - key: proposal
    patterns:
      - {name: title, regex: 'X', weight: 0}
`,
			wantErr: "weight must be positive",
		},
		{
			name: "unknown variant",
			yaml: `
shared: {tax_id: '\d+', page_marker: 'PAG'}
formats:
  - {issuer: rede_sul, subtype: proposal, variant: freeform, layout: tabular_by_tax_id}
`,
			wantErr: `unknown variant "freeform"`,
		},
		{
			name: "header without v group",
			yaml: `
shared: {tax_id: '\d+', page_marker: 'PAG'}
header_fields:
  city: ['CIDADE: (\w+)']
`,
			wantErr: "missing named group v",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Emissão", "EMISSAO"},
		{"Cotação de preço", "COTACAO DE PRECO"},
		{"PEDIDO DE COMPRA", "PEDIDO DE COMPRA"},
		{"Município: São José", "MUNICIPIO: SAO JOSE"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), "input %q", tt.in)
	}
}

func TestFirstGroup(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`(?:A(\d+))|(?:B(\d+))`)
	assert.Equal(t, "12", FirstGroup(re, "x B12"))
	assert.Equal(t, "7", FirstGroup(re, "A7"))
	assert.Equal(t, "", FirstGroup(re, "none"))
}
