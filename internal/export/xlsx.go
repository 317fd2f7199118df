// Package export renders pipeline results as spreadsheets.
package export

import (
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/order-intake/internal/model"
)

// Sheet names.
const (
	ItemsSheet   = "Items"
	SummarySheet = "Summary"
)

const moneyFormat = "#,##0.00"

var itemHeaders = []string{
	"Document", "Document Number", "Branch", "Tax ID", "Branch Name", "Order Number",
	"Customer", "Seq", "Vendor Code", "Lookup Code", "Description", "Package",
	"Delivery Date", "Quantity", "Unit Price", "Line Total",
	"Internal Code", "Internal Description", "Conversion Factor",
}

var summaryHeaders = []string{
	"Tax ID", "Branch Name", "Order Number", "Items", "Quantity", "Value", "Unresolved Codes",
}

// Workbook builds the Items and Summary sheets for a result.
func Workbook(res *model.ExtractionResult) (*xlsx.File, error) {
	if res == nil {
		return nil, eris.New("export: nil result")
	}
	f := xlsx.NewFile()

	items, err := f.AddSheet(ItemsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add items sheet")
	}
	addStrings(items.AddRow(), itemHeaders...)
	for bi, lines := range res.ItemsByBranch {
		var hdr model.BranchHeader
		if bi < len(res.Branches) {
			hdr = res.Branches[bi]
		}
		for _, li := range lines {
			row := items.AddRow()
			addStrings(row, res.ID, res.Identity.DocumentNumber)
			row.AddCell().SetInt(bi + 1)
			addStrings(row, hdr.FormattedTaxID, hdr.BranchName, hdr.Number(), hdr.CustomerName)
			row.AddCell().SetInt(li.Sequence)
			addStrings(row, li.VendorCode, li.VendorCodeNormalized, li.Description, li.Package, li.DeliveryDate)
			row.AddCell().SetInt64(li.Quantity)
			addMoney(row, li.UnitPrice)
			addMoney(row, li.LineTotal)
			addStrings(row, li.InternalCode, li.InternalDescription, li.ConversionFactor.String())
		}
	}

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	addStrings(summary.AddRow(), summaryHeaders...)
	for _, b := range res.Summary.Branches {
		row := summary.AddRow()
		addStrings(row, model.FormatTaxID(b.TaxID), b.BranchName, b.OrderNumber)
		row.AddCell().SetInt(b.ItemCount)
		row.AddCell().SetInt64(b.Quantity)
		addMoney(row, b.Value)
		row.AddCell().SetInt(b.Unresolved)
	}

	summary.AddRow()
	s := res.Summary
	for _, kv := range []struct {
		label string
		value string
	}{
		{"Document", res.ID},
		{"Issuer", string(res.Identity.Issuer)},
		{"Subtype", string(res.Identity.Subtype)},
		{"Document Number", res.Identity.DocumentNumber},
		{"Status", string(res.Status)},
		{"Total Branches", strconv.Itoa(s.TotalBranches)},
		{"Total Items", strconv.Itoa(s.TotalItems)},
		{"Distinct Products", strconv.Itoa(s.DistinctProducts)},
		{"Total Quantity", strconv.FormatInt(s.TotalQuantity, 10)},
		{"Total Value", s.TotalValue.StringFixed(2)},
		{"Items Without Cross-Reference", strconv.Itoa(s.ItemsWithoutCrossReference)},
		{"Warnings", strconv.Itoa(len(res.Warnings))},
	} {
		addStrings(summary.AddRow(), kv.label, kv.value)
	}
	return f, nil
}

// WriteXLSX writes the workbook for res to w.
func WriteXLSX(w io.Writer, res *model.ExtractionResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// SaveXLSX writes the workbook for res to path.
func SaveXLSX(path string, res *model.ExtractionResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addMoney(row *xlsx.Row, d decimal.Decimal) {
	row.AddCell().SetFloatWithFormat(d.InexactFloat64(), moneyFormat)
}
