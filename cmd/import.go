package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/extract"
	"github.com/sells-group/order-intake/internal/fetcher"
	"github.com/sells-group/order-intake/internal/model"
)

var importSheet string

var xrefCmd = &cobra.Command{
	Use:   "xref",
	Short: "Manage the product cross-reference catalog",
}

var xrefImportCmd = &cobra.Command{
	Use:   "import <file.xlsx|file.csv|file.json>",
	Short: "Load cross-reference entries into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entries, err := loadCrossRefFile(ctx, args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.UpsertCrossRefs(ctx, entries)
		if err != nil {
			return eris.Wrap(err, "upsert cross-references")
		}
		zap.L().Info("xref import complete",
			zap.String("file", args[0]),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Manage customer enrichment records",
}

var customersImportCmd = &cobra.Command{
	Use:   "import <file.xlsx|file.csv|file.json>",
	Short: "Load customer rows into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		customers, err := loadCustomerFile(ctx, args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := st.UpsertCustomers(ctx, customers)
		if err != nil {
			return eris.Wrap(err, "upsert customers")
		}
		zap.L().Info("customer import complete",
			zap.String("file", args[0]),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

func init() {
	xrefImportCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for xlsx files (default: first sheet)")
	customersImportCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for xlsx files (default: first sheet)")
	xrefCmd.AddCommand(xrefImportCmd)
	customersCmd.AddCommand(customersImportCmd)
	rootCmd.AddCommand(xrefCmd, customersCmd)
}

// Accepted header spellings, compared case-insensitively without spaces,
// underscores or dashes.
var (
	colVendorCode   = []string{"vendor_code", "codigo_fornecedor", "cod_fornecedor", "codigo"}
	colCustomerTax  = []string{"customer_tax_id", "cnpj_cliente", "cnpj"}
	colInternalCode = []string{"internal_code", "codigo_interno", "cod_interno"}
	colInternalDesc = []string{"internal_description", "descricao_interna", "descricao"}
	colFactor       = []string{"conversion_factor", "fator_conversao", "fator", "factor"}

	colTaxID        = []string{"tax_id", "cnpj"}
	colName         = []string{"name", "razao_social", "nome"}
	colMunicipality = []string{"municipality", "municipio", "cidade", "city"}
	colState        = []string{"state", "uf"}
)

// readTable loads a CSV or XLSX file as a header plus rows.
func readTable(ctx context.Context, path string, data []byte) (*fetcher.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return fetcher.ReadXLSXTable(data, fetcher.XLSXOptions{SheetName: importSheet})
	case ".csv", ".txt", ".tsv":
		return fetcher.ReadCSVTable(ctx, data, fetcher.CSVOptions{TrimSpace: true})
	default:
		return nil, eris.Errorf("unsupported import file %q (xlsx, csv or json)", path)
	}
}

func readImportFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// loadCrossRefFile parses a catalog export. Rows without a vendor or
// internal code are skipped with a warning.
func loadCrossRefFile(ctx context.Context, path string) ([]model.CrossReferenceEntry, error) {
	data, err := readImportFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		out, errs := fetcher.DecodeJSONArray[model.CrossReferenceEntry](ctx, bytes.NewReader(data))
		var entries []model.CrossReferenceEntry
		for e := range out {
			e.CustomerTaxID = model.DigitsOnly(e.CustomerTaxID)
			if e.VendorCode == "" || e.InternalCode == "" {
				continue
			}
			if !e.ConversionFactor.IsPositive() {
				e.ConversionFactor = decimal.NewFromInt(1)
			}
			entries = append(entries, e)
		}
		if err := <-errs; err != nil {
			return nil, eris.Wrapf(err, "decode %s", path)
		}
		return entries, nil
	}

	t, err := readTable(ctx, path, data)
	if err != nil {
		return nil, err
	}
	return parseCrossRefTable(t)
}

func parseCrossRefTable(t *fetcher.Table) ([]model.CrossReferenceEntry, error) {
	code, internal := t.Column(colVendorCode...), t.Column(colInternalCode...)
	if code < 0 || internal < 0 {
		return nil, eris.Errorf("cross-reference file needs vendor_code and internal_code columns, got %v", t.Header)
	}
	tax, desc, factor := t.Column(colCustomerTax...), t.Column(colInternalDesc...), t.Column(colFactor...)

	entries := make([]model.CrossReferenceEntry, 0, len(t.Rows))
	for i, row := range t.Rows {
		e := model.CrossReferenceEntry{
			VendorCode:          fetcher.Cell(row, code),
			CustomerTaxID:       model.DigitsOnly(fetcher.Cell(row, tax)),
			InternalCode:        fetcher.Cell(row, internal),
			InternalDescription: fetcher.Cell(row, desc),
			ConversionFactor:    decimal.NewFromInt(1),
		}
		if e.VendorCode == "" || e.InternalCode == "" {
			zap.L().Warn("xref: skipping incomplete row", zap.Int("row", i+2))
			continue
		}
		if raw := fetcher.Cell(row, factor); raw != "" {
			f, ok := parseFactor(raw)
			if !ok {
				return nil, eris.Errorf("row %d: invalid conversion factor %q", i+2, raw)
			}
			e.ConversionFactor = f
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseFactor accepts canonical decimals ("0.125") and pt-BR ones ("1,5").
// Factors must be positive.
func parseFactor(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		var ok bool
		if d, ok = extract.ParseDecimal(raw); !ok {
			return decimal.Zero, false
		}
	}
	return d, d.IsPositive()
}

// loadCustomerFile parses a customer export. Rows without a tax id are
// skipped.
func loadCustomerFile(ctx context.Context, path string) ([]model.Customer, error) {
	data, err := readImportFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		out, errs := fetcher.DecodeJSONArray[model.Customer](ctx, bytes.NewReader(data))
		var customers []model.Customer
		for c := range out {
			if c.TaxID = model.DigitsOnly(c.TaxID); c.TaxID != "" {
				customers = append(customers, c)
			}
		}
		if err := <-errs; err != nil {
			return nil, eris.Wrapf(err, "decode %s", path)
		}
		return customers, nil
	}

	t, err := readTable(ctx, path, data)
	if err != nil {
		return nil, err
	}
	return parseCustomerTable(t)
}

func parseCustomerTable(t *fetcher.Table) ([]model.Customer, error) {
	tax, name := t.Column(colTaxID...), t.Column(colName...)
	if tax < 0 || name < 0 {
		return nil, eris.Errorf("customer file needs tax_id and name columns, got %v", t.Header)
	}
	city, state := t.Column(colMunicipality...), t.Column(colState...)

	customers := make([]model.Customer, 0, len(t.Rows))
	for _, row := range t.Rows {
		c := model.Customer{
			TaxID:        model.DigitsOnly(fetcher.Cell(row, tax)),
			Name:         fetcher.Cell(row, name),
			Municipality: fetcher.Cell(row, city),
			State:        strings.ToUpper(fetcher.Cell(row, state)),
		}
		if c.TaxID == "" {
			continue
		}
		customers = append(customers, c)
	}
	return customers, nil
}
