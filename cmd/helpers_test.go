//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/config"
	"github.com/sells-group/order-intake/internal/model"
)

// sampleOrder is a two-branch paginated purchase order.
const sampleOrder = "REDE SUL SUPERMERCADOS LTDA                    PAGINA 1 DE 1\n" +
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

// testConfig points every backend at local, offline implementations.
func testConfig(dir string) *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "test.db")},
		OCR:      config.OCRConfig{Primary: "text", Fallback: "none"},
		XRef:     config.XRefConfig{Source: "store"},
		Customer: config.CustomerConfig{Provider: "store", CacheTTLMinutes: 1},
		Pipeline: config.PipelineConfig{MinConfidence: 0.6, ClassifyPages: 2},
		Batch:    config.BatchConfig{MaxConcurrentDocuments: 2},
		Server:   config.ServerConfig{MaxUploadMB: 1, AllowedOrigins: []string{"https://intake.example.com"}},
		Inbox:    config.InboxConfig{TimeoutSecs: 5},
	}
}

// setupTestEnv builds an environment over a temp SQLite store seeded with
// a small catalog and one customer.
func setupTestEnv(t *testing.T) *appEnv {
	t.Helper()
	cfg = testConfig(t.TempDir())

	ctx := context.Background()
	env, err := initEnv(ctx, "")
	require.NoError(t, err)
	t.Cleanup(env.Close)

	_, err = env.Store.UpsertCrossRefs(ctx, []model.CrossReferenceEntry{
		{VendorCode: "12345", InternalCode: "INT-WIDGET"},
		{VendorCode: "12345", CustomerTaxID: "93209765059944", InternalCode: "INT-WIDGET-CD", ConversionFactor: decimal.NewFromInt(6)},
		{VendorCode: "777", InternalCode: "INT-PARAFUSO"},
	})
	require.NoError(t, err)
	_, err = env.Store.UpsertCustomers(ctx, []model.Customer{
		{TaxID: "93209765059944", Name: "REDE SUL CD POA", Municipality: "PORTO ALEGRE", State: "RS"},
	})
	require.NoError(t, err)
	return env
}
