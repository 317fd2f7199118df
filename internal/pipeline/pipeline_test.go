package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/config"
	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/ocr"
	"github.com/sells-group/order-intake/internal/patterns"
	"github.com/sells-group/order-intake/internal/xref"
)

// twoBranchOrder is a paginated purchase order: page 1 is the first branch,
// pages 2 and 3 are the second branch.
const twoBranchOrder = "REDE SUL SUPERMERCADOS LTDA                    PAGINA 1 DE 1\n" +
	"PEDIDO DE COMPRA Nº 4500123      DATA EMISSAO: 20/08/2024\n" +
	"LOCAL DE ENTREGA: CD PORTO ALEGRE   CNPJ: 93.209.765/0599-44\n" +
	"DESCRICAO                          ENTREGA  QTDE   PRECO UN\n" +
	"WIDGET A  26/08  15  199,48\n" +
	"12345/001 CXA 0001X0006X2KG  1789...\n" +
	"CAIXA TERMICA  26/08  2  50,00\n" +
	"55555 UN 0001X0001X1UN\n" +
	"\f" +
	"REDE SUL SUPERMERCADOS LTDA                    PAGINA 1 DE 2\n" +
	"PEDIDO DE COMPRA Nº 4500123      DATA EMISSAO: 20/08/2024\n" +
	"LOCAL DE ENTREGA: LOJA CANOAS   CNPJ: 93.209.765/0600-10\n" +
	"GADGET B  27/08  0  5,00\n" +
	"67890 UN 0001X0001X1UN\n" +
	"\f" +
	"REDE SUL SUPERMERCADOS LTDA                    PAGINA 2 DE 2\n" +
	"PARAFUSO INOX  27/08  3  10,00\n" +
	"00777 UN 0001X0001X1UN\n"

type extractorFunc func(ctx context.Context, doc []byte) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, doc []byte) (string, error) {
	return f(ctx, doc)
}

type fakeDirectory map[string]model.Customer

func (d fakeDirectory) LookupByTaxID(_ context.Context, taxID string) (*model.Customer, error) {
	c, ok := d[model.DigitsOnly(taxID)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func catalog() *xref.MemorySource {
	return xref.NewMemorySource(
		model.CrossReferenceEntry{VendorCode: "12345", InternalCode: "INT-WIDGET", InternalDescription: "WIDGET GENERICO"},
		model.CrossReferenceEntry{VendorCode: "12345", CustomerTaxID: "93.209.765/0599-44", InternalCode: "INT-WIDGET-CD", ConversionFactor: decimal.NewFromInt(6)},
		model.CrossReferenceEntry{VendorCode: "777", InternalCode: "INT-PARAFUSO"},
	)
}

func newTestPipeline(t *testing.T, cfg config.PipelineConfig, opts ...Option) *Pipeline {
	t.Helper()
	lib, err := patterns.Default()
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})}, opts...)
	p, err := New(cfg, lib, xref.NewResolver(catalog()), opts...)
	require.NoError(t, err)
	return p
}

func warningsMentioning(res *model.ExtractionResult, s string) []string {
	var out []string
	for _, w := range res.Warnings {
		if strings.Contains(w, s) {
			out = append(out, w)
		}
	}
	return out
}

func TestProcessText_FullDocument(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{MinConfidence: 0.6})

	res, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, model.StateSummarized, res.Status)
	assert.Equal(t, []model.ProcessState{
		model.StateReceived, model.StateClassified, model.StateSplit, model.StateExtracting,
		model.StateNormalizing, model.StateValidated, model.StateSummarized,
	}, res.States)
	assert.Empty(t, res.Errors)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), res.ProcessedAt)

	assert.Equal(t, model.IssuerRedeSul, res.Identity.Issuer)
	assert.Equal(t, model.SubtypePurchaseOrder, res.Identity.Subtype)
	assert.Equal(t, "4500123", res.Identity.DocumentNumber)
	require.NotNil(t, res.Format)
	assert.Equal(t, model.VariantMatrixPurchaseOrder, res.Format.Variant)

	require.Len(t, res.Branches, 2)
	require.Len(t, res.ItemsByBranch, 2)
	assert.Equal(t, "93.209.765/0599-44", res.Branches[0].FormattedTaxID)
	assert.Equal(t, "CD PORTO ALEGRE", res.Branches[0].BranchName)
	assert.Equal(t, "93.209.765/0600-10", res.Branches[1].FormattedTaxID)

	// Branch 1: customer-specific entry wins; 55555 is unresolved.
	require.Len(t, res.ItemsByBranch[0], 2)
	widget := res.ItemsByBranch[0][0]
	assert.Equal(t, "INT-WIDGET-CD", widget.InternalCode)
	assert.True(t, widget.ConversionFactor.Equal(decimal.NewFromInt(6)))
	assert.True(t, widget.LineTotal.Equal(decimal.RequireFromString("2992.20")))
	assert.Empty(t, res.ItemsByBranch[0][1].InternalCode)

	// Branch 2: the zero-quantity line is dropped; 00777 resolves as 777.
	require.Len(t, res.ItemsByBranch[1], 1)
	assert.Equal(t, "00777", res.ItemsByBranch[1][0].VendorCode)
	assert.Equal(t, "INT-PARAFUSO", res.ItemsByBranch[1][0].InternalCode)
	assert.True(t, res.ItemsByBranch[1][0].ConversionFactor.Equal(decimal.NewFromInt(1)))

	for _, item := range res.Items() {
		assert.Positive(t, item.Quantity)
		assert.True(t, item.UnitPrice.IsPositive())
		assert.True(t, item.LineTotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))))
	}

	sum := res.Summary
	assert.Equal(t, 3, sum.TotalItems)
	assert.Equal(t, 2, sum.TotalBranches)
	assert.Equal(t, 3, sum.DistinctProducts)
	assert.Equal(t, int64(20), sum.TotalQuantity)
	assert.True(t, sum.TotalValue.Equal(decimal.RequireFromString("3122.20")), sum.TotalValue.String())
	assert.Equal(t, 1, sum.ItemsWithoutCrossReference)
	require.Len(t, sum.Branches, 2)
	assert.Equal(t, "93209765059944", sum.Branches[0].TaxID)
	assert.Equal(t, 2, sum.Branches[0].ItemCount)
	assert.Equal(t, 1, sum.Branches[0].Unresolved)
	assert.Equal(t, "4500123", sum.Branches[0].OrderNumber)
	assert.True(t, sum.Branches[1].Value.Equal(decimal.NewFromInt(30)))
}

func TestProcessText_ClassifiesRedeSulOrder(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})

	res, err := p.ProcessText(context.Background(),
		"FORNECEDOR: ACME\nCNPJ 93209765/0599-44\nPEDIDO DE COMPRA 4500999\n", nil)
	require.NoError(t, err)
	assert.Equal(t, model.IssuerRedeSul, res.Identity.Issuer)
	assert.Equal(t, model.SubtypePurchaseOrder, res.Identity.Subtype)
	assert.GreaterOrEqual(t, res.Identity.Confidence, 0.85)
}

func TestProcessText_CrossReferenceMiss(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})
	hint := model.FormatKey{Issuer: model.IssuerRedeSul, Subtype: model.SubtypePurchaseOrder}

	res, err := p.ProcessText(context.Background(),
		"WIDGET A  26/08  15  199,48\n12345/001 CXA 0001X0006X2KG  1789...\n", &hint)
	require.NoError(t, err)
	assert.Zero(t, res.Summary.ItemsWithoutCrossReference)

	res, err = p.ProcessText(context.Background(),
		"WIDGET A  26/08  15  199,48\n12345/001 CXA 0001X0006X2KG  1789...\n"+
			"NOVO ITEM  26/08  1  9,90\n31337 UN 0001X0001X1UN\n", &hint)
	require.NoError(t, err)
	require.Len(t, res.Items(), 2)
	assert.Empty(t, res.Items()[1].InternalCode)
	assert.Equal(t, 1, res.Summary.ItemsWithoutCrossReference)
	assert.Len(t, warningsMentioning(res, "31337"), 1)
	assert.Equal(t, []string{"31337"}, p.Resolver().Misses())
}

func TestProcessText_ZeroQuantityDropped(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})

	res, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
	require.NoError(t, err)

	for _, item := range res.Items() {
		assert.NotEqual(t, "67890", item.VendorCode)
	}
	dropped := warningsMentioning(res, "67890")
	require.Len(t, dropped, 1)
	assert.Contains(t, dropped[0], "dropped line")
	assert.Contains(t, dropped[0], "4500123")
}

func TestProcess_BothBackendsFail(t *testing.T) {
	failing := extractorFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("backend down")
	})
	m := NewMetrics(nil)
	p := newTestPipeline(t, config.PipelineConfig{},
		WithTextExtractor(&ocr.Chain{Primary: failing, Fallback: failing}),
		WithMetrics(m),
	)

	res, err := p.Process(context.Background(), []byte("%PDF-1.7"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTextExtraction))
	require.NotNil(t, res)
	assert.Equal(t, model.StateFailed, res.Status)
	assert.True(t, res.Failed())
	assert.Contains(t, res.FailureReason, "extraction failed")
	assert.Empty(t, res.Branches)
	assert.Equal(t, []model.ProcessState{model.StateReceived, model.StateFailed}, res.States)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Documents.WithLabelValues("failed")))
}

func TestProcess_UsesTextExtractor(t *testing.T) {
	var got []byte
	p := newTestPipeline(t, config.PipelineConfig{},
		WithTextExtractor(extractorFunc(func(_ context.Context, doc []byte) (string, error) {
			got = doc
			return twoBranchOrder, nil
		})),
	)

	res, err := p.Process(context.Background(), []byte("raw"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), got)
	assert.Equal(t, 3, res.Summary.TotalItems)
}

func TestProcess_NoTextExtractor(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})

	res, err := p.Process(context.Background(), []byte("x"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTextExtraction))
	assert.True(t, res.Failed())
}

func TestProcessText_UnknownFormat(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})

	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{"empty text", "", "issuer and document subtype"},
		{"no issuer", "PEDIDO DE COMPRA 123456\n", "issuer not recognized"},
		{"no subtype", "CNPJ 93.209.765/0599-44\nRELATORIO\n", "subtype not recognized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.ProcessText(context.Background(), tt.text, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownFormat))
			assert.Equal(t, model.StateFailed, res.Status)
			assert.Contains(t, res.FailureReason, tt.reason)
			assert.Empty(t, res.Branches)
			require.Len(t, res.Errors, 1)
		})
	}
}

func TestProcessText_FormatHint(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{MinConfidence: 0.99})
	hint := model.FormatKey{Issuer: model.IssuerRedeSul, Subtype: model.SubtypePurchaseOrder}

	res, err := p.ProcessText(context.Background(), "WIDGET A  26/08  15  199,48\n12345/001 CXA 0001X0006X2KG  1789...\n", &hint)
	require.NoError(t, err)
	assert.Equal(t, model.IssuerRedeSul, res.Identity.Issuer)
	assert.Equal(t, 1.0, res.Identity.Confidence)
	assert.Contains(t, res.Identity.Evidence, "format_hint=rede_sul/purchase_order")
	assert.Empty(t, warningsMentioning(res, "confidence"))
	require.Len(t, res.Items(), 1)
}

func TestProcessText_LowConfidenceWarning(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{MinConfidence: 0.95})

	res, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
	require.NoError(t, err)
	assert.Len(t, warningsMentioning(res, "low classification confidence"), 1)
}

func TestProcessText_GracefulDegradation(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})
	hint := model.FormatKey{Issuer: model.IssuerCasaCentral, Subtype: model.SubtypeProposal}

	res, err := p.ProcessText(context.Background(), "texto sem marcadores\nnada aqui\n", &hint)
	require.NoError(t, err)
	assert.Equal(t, model.StateSummarized, res.Status)
	require.Len(t, res.Branches, 1)
	assert.Empty(t, res.ItemsByBranch[0])
	assert.Len(t, warningsMentioning(res, "no line items found"), 1)
	assert.Len(t, warningsMentioning(res, "no header fields found"), 1)
}

func TestProcessText_HintSelectsDocumentNumber(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})
	text := "REDE SUL\nPEDIDO DE COMPRA 4500123\nPROPOSTA DE COMPRA 4321\n"

	res, err := p.ProcessText(context.Background(), text, nil)
	require.NoError(t, err)
	assert.Equal(t, "4500123", res.Identity.DocumentNumber)

	hint := model.FormatKey{Issuer: model.IssuerRedeSul, Subtype: model.SubtypeProposal}
	res, err = p.ProcessText(context.Background(), text, &hint)
	require.NoError(t, err)
	assert.Equal(t, "4321", res.Identity.DocumentNumber)
	assert.Contains(t, res.Identity.Evidence, "hinted_document_number=4321")
}

func TestProcessText_TabularIgnoresIssuerTaxID(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})
	hint := model.FormatKey{Issuer: model.IssuerCasaCentral, Subtype: model.SubtypeProposal}
	text := "CASA CENTRAL COMERCIO DE ALIMENTOS   CNPJ 07.206.816/0001-00\n" +
		"PROPOSTA DE COMPRA 55120\n" +
		"CNPJ DA LOJA: 07.206.816/0011-91\nsem itens\n" +
		"CNPJ DA LOJA: 07.206.816/0012-72\nsem itens\n"

	res, err := p.ProcessText(context.Background(), text, &hint)
	require.NoError(t, err)
	require.Len(t, res.Branches, 2)
	assert.Equal(t, "07206816001191", model.DigitsOnly(res.Branches[0].TaxID))
	assert.Equal(t, "07206816001272", model.DigitsOnly(res.Branches[1].TaxID))
}

func TestProcessText_NoSections(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})
	hint := model.FormatKey{Issuer: model.IssuerCasaCentral, Subtype: model.SubtypeProposal}

	res, err := p.ProcessText(context.Background(), " \n\t\n", &hint)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSections))
	assert.True(t, res.Failed())
}

func TestProcessText_CustomerEnrichment(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{},
		WithCustomers(fakeDirectory{
			"93209765059944": {TaxID: "93209765059944", Name: "REDE SUL CD POA", Municipality: "Porto Alegre", State: "RS"},
		}),
	)

	res, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
	require.NoError(t, err)
	assert.Equal(t, "REDE SUL CD POA", res.Branches[0].CustomerName)
	assert.Equal(t, "Porto Alegre", res.Branches[0].Municipality)
	assert.Empty(t, res.Branches[1].CustomerName)
}

func TestProcessText_Metrics(t *testing.T) {
	m := NewMetrics(nil)
	p := newTestPipeline(t, config.PipelineConfig{}, WithMetrics(m))

	_, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Documents.WithLabelValues("summarized")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CrossRefMisses))
}

func TestProcessText_Concurrent(t *testing.T) {
	p := newTestPipeline(t, config.PipelineConfig{})

	var wg sync.WaitGroup
	results := make([]*model.ExtractionResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.ProcessText(context.Background(), twoBranchOrder, nil)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 3, res.Summary.TotalItems)
		ids[res.ID] = true
	}
	assert.Len(t, ids, len(results))
	// Three distinct codes resolved once each, whatever the interleaving.
	assert.Equal(t, 3, p.Resolver().Len())
}

func TestNew_RequiresDependencies(t *testing.T) {
	lib, err := patterns.Default()
	require.NoError(t, err)

	_, err = New(config.PipelineConfig{}, nil, xref.NewResolver(catalog()))
	require.Error(t, err)
	_, err = New(config.PipelineConfig{}, lib, nil)
	require.Error(t, err)
}
