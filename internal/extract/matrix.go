package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

// Matrix extracts purchase-order sections printed as line pairs: the first
// line carries description, delivery date, quantity and price, and the line
// right below it carries code, package and barcode.
type Matrix struct {
	header      *HeaderExtractor
	description *regexp.Regexp
	code        *regexp.Regexp
	block       *regexp.Regexp
}

// NewMatrix builds the matrix extractor from lib's line patterns.
func NewMatrix(lib *patterns.Library) (*Matrix, error) {
	v := model.VariantMatrixPurchaseOrder
	m := &Matrix{
		header:      NewHeaderExtractor(lib),
		description: lib.Line(v, "description"),
		code:        lib.Line(v, "code"),
		block:       lib.Line(v, "block"),
	}
	if m.description == nil || m.code == nil || m.block == nil {
		return nil, eris.Errorf("extract: %s needs description, code and block line patterns", v)
	}
	return m, nil
}

// Variant implements Extractor.
func (m *Matrix) Variant() model.FormatVariant { return model.VariantMatrixPurchaseOrder }

// Extract implements Extractor.
func (m *Matrix) Extract(section model.BranchSection) Extraction {
	items, skipped, used := runCascade(m.Variant(), section.Text, []strategy{
		{name: StrategyLinePairs, run: m.linePairs},
		{name: StrategyBlockScan, run: m.blockScan},
	})
	return Extraction{
		Header:   m.header.Extract(section.Text),
		Items:    items,
		Strategy: used,
		Skipped:  skipped,
	}
}

// linePairs walks adjacent lines. A description line followed directly by
// a code line yields one item and the scan moves past both. A description
// line followed by anything else is a miss for that candidate and the scan
// moves on by one line.
func (m *Matrix) linePairs(text string) ([]model.LineItem, []Skipped) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var items []model.LineItem
	var skipped []Skipped
	for i := 0; i+1 < len(lines); {
		dm := m.description.FindStringSubmatch(lines[i])
		if dm == nil {
			i++
			continue
		}
		cm := m.code.FindStringSubmatch(lines[i+1])
		if cm == nil {
			zap.L().Debug("extract: description line without code line",
				zap.Int("line", i+1),
			)
			i++
			continue
		}

		g := patterns.Named(m.description, dm)
		for k, v := range patterns.Named(m.code, cm) {
			g[k] = v
		}
		item, skip := buildItem(g, i+1, len(items)+1)
		if skip != nil {
			skipped = append(skipped, *skip)
		} else {
			items = append(items, item)
		}
		i += 2
	}
	return items, skipped
}

// blockScan tolerates up to two unrelated lines between the description
// and the code, and does not require the description line to be clean.
func (m *Matrix) blockScan(text string) ([]model.LineItem, []Skipped) {
	return scanAll(m.block, strings.ReplaceAll(text, "\r\n", "\n"))
}
