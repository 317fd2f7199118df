package extract

import (
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

// Tabular extracts proposal-style sections where each product is one row:
// sequence, code, description, package, delivery date, quantity, price.
type Tabular struct {
	header  *HeaderExtractor
	strict  *regexp.Regexp
	relaxed *regexp.Regexp
	block   *regexp.Regexp
}

// NewTabular builds the tabular extractor from lib's line patterns.
func NewTabular(lib *patterns.Library) (*Tabular, error) {
	v := model.VariantTabularProposal
	t := &Tabular{
		header:  NewHeaderExtractor(lib),
		strict:  lib.Line(v, "strict"),
		relaxed: lib.Line(v, "relaxed"),
		block:   lib.Line(v, "block"),
	}
	if t.strict == nil || t.relaxed == nil || t.block == nil {
		return nil, eris.Errorf("extract: %s needs strict, relaxed and block line patterns", v)
	}
	return t, nil
}

// Variant implements Extractor.
func (t *Tabular) Variant() model.FormatVariant { return model.VariantTabularProposal }

// Extract implements Extractor.
func (t *Tabular) Extract(section model.BranchSection) Extraction {
	items, skipped, used := runCascade(t.Variant(), section.Text, []strategy{
		{name: StrategyStrictRows, run: t.strictRows},
		{name: StrategyRelaxedRows, run: t.relaxedRows},
		{name: StrategyBlockScan, run: t.blockScan},
	})
	return Extraction{
		Header:   t.header.Extract(section.Text),
		Items:    items,
		Strategy: used,
		Skipped:  skipped,
	}
}

// strictRows matches fully populated rows with package and delivery date.
func (t *Tabular) strictRows(text string) ([]model.LineItem, []Skipped) {
	return scanAll(t.strict, text)
}

// relaxedRows drops the package/date columns and the sequence requirement.
func (t *Tabular) relaxedRows(text string) ([]model.LineItem, []Skipped) {
	return scanAll(t.relaxed, text)
}

// blockScan searches anywhere in the section for code ... qty price runs.
func (t *Tabular) blockScan(text string) ([]model.LineItem, []Skipped) {
	return scanAll(t.block, text)
}
