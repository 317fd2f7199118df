// Package extract turns one branch section into a header and line items,
// trying an ordered cascade of strategies per document layout.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

// Strategy names, in the order the cascades try them.
const (
	StrategyStrictRows  = "strict_rows"
	StrategyRelaxedRows = "relaxed_rows"
	StrategyLinePairs   = "line_pairs"
	StrategyBlockScan   = "block_scan"
	StrategyNone        = "none"
)

// Skipped records a candidate line that could not become a LineItem.
type Skipped struct {
	Line       int    `json:"line"`
	VendorCode string `json:"vendor_code,omitempty"`
	Reason     string `json:"reason"`
}

func (s Skipped) String() string {
	if s.VendorCode != "" {
		return fmt.Sprintf("line %d (code %s): %s", s.Line, s.VendorCode, s.Reason)
	}
	return fmt.Sprintf("line %d: %s", s.Line, s.Reason)
}

// Extraction is the outcome of extracting one section.
type Extraction struct {
	Header   model.BranchHeader
	Items    []model.LineItem
	Strategy string
	Skipped  []Skipped
}

// Extractor extracts one format variant.
type Extractor interface {
	Variant() model.FormatVariant
	Extract(section model.BranchSection) Extraction
}

// strategy is one named stage of a line-item cascade. A stage that returns
// no items hands over to the next one.
type strategy struct {
	name string
	run  func(text string) ([]model.LineItem, []Skipped)
}

// runCascade tries each stage in order and keeps the first that yields
// items. When none does, the skipped lines of the first stage that saw any
// candidates are reported.
func runCascade(variant model.FormatVariant, text string, stages []strategy) ([]model.LineItem, []Skipped, string) {
	var fallbackSkipped []Skipped
	for _, s := range stages {
		items, skipped := s.run(text)
		if len(items) > 0 {
			zap.L().Debug("extract: strategy matched",
				zap.String("variant", string(variant)),
				zap.String("strategy", s.name),
				zap.Int("items", len(items)),
				zap.Int("skipped", len(skipped)),
			)
			return items, skipped, s.name
		}
		if fallbackSkipped == nil && len(skipped) > 0 {
			fallbackSkipped = skipped
		}
	}
	return nil, fallbackSkipped, StrategyNone
}

// buildItem converts named regex groups into a line item. Quantity and
// price must both be printed numbers; a fractional or out-of-range quantity
// is kept as zero so validation drops it with a warning.
func buildItem(g map[string]string, line, ordinal int) (model.LineItem, *Skipped) {
	code := strings.TrimSpace(g["code"])
	if code == "" {
		return model.LineItem{}, &Skipped{Line: line, Reason: "missing vendor code"}
	}
	qtyRaw, priceRaw := g["qty"], g["price"]
	if qtyRaw == "" || priceRaw == "" {
		return model.LineItem{}, &Skipped{Line: line, VendorCode: code, Reason: "quantity or price missing"}
	}
	if !IsNumeric(qtyRaw) {
		return model.LineItem{}, &Skipped{Line: line, VendorCode: code, Reason: fmt.Sprintf("quantity %q is not numeric", qtyRaw)}
	}
	price, ok := ParseDecimal(priceRaw)
	if !ok {
		return model.LineItem{}, &Skipped{Line: line, VendorCode: code, Reason: fmt.Sprintf("unit price %q is not numeric", priceRaw)}
	}
	qty, ok := ParseQuantity(qtyRaw)
	if !ok {
		zap.L().Debug("extract: unusable quantity normalized to zero",
			zap.String("vendor_code", code),
			zap.String("quantity", qtyRaw),
		)
	}

	seq := ordinal
	if n, err := strconv.Atoi(g["seq"]); err == nil && n > 0 {
		seq = n
	}

	item := model.LineItem{
		Sequence:             seq,
		VendorCode:           code,
		VendorCodeNormalized: NormalizeVendorCode(code),
		Description:          collapseSpaces(g["desc"]),
		Package:              collapseSpaces(g["pkg"]),
		DeliveryDate:         g["date"],
		Quantity:             qty,
		UnitPrice:            price,
		ConversionFactor:     decimal.NewFromInt(1),
	}
	item.ComputeTotal()
	return item, nil
}

// scanAll applies re across text and builds an item per match.
func scanAll(re *regexp.Regexp, text string) ([]model.LineItem, []Skipped) {
	if re == nil {
		return nil, nil
	}
	var items []model.LineItem
	var skipped []Skipped
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		g := groups(re, text, loc)
		item, skip := buildItem(g, lineNumber(text, loc[0]), len(items)+1)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

func groups(re *regexp.Regexp, text string, loc []int) map[string]string {
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || 2*i+1 >= len(loc) || loc[2*i] < 0 {
			continue
		}
		out[name] = strings.TrimSpace(text[loc[2*i]:loc[2*i+1]])
	}
	return out
}

func lineNumber(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Registry dispatches a format variant to its extractor.
type Registry struct {
	byVariant map[model.FormatVariant]Extractor
}

// NewRegistry indexes extractors by variant. Every variant in
// model.AllFormatVariants must be covered exactly once.
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byVariant: make(map[model.FormatVariant]Extractor, len(extractors))}
	for _, e := range extractors {
		if _, dup := r.byVariant[e.Variant()]; dup {
			return nil, eris.Errorf("extract: duplicate extractor for variant %s", e.Variant())
		}
		r.byVariant[e.Variant()] = e
	}
	for _, v := range model.AllFormatVariants() {
		if _, ok := r.byVariant[v]; !ok {
			return nil, eris.Errorf("extract: no extractor registered for variant %s", v)
		}
	}
	return r, nil
}

// DefaultRegistry registers the built-in extractors over lib.
func DefaultRegistry(lib *patterns.Library) (*Registry, error) {
	tabular, err := NewTabular(lib)
	if err != nil {
		return nil, err
	}
	matrix, err := NewMatrix(lib)
	if err != nil {
		return nil, err
	}
	return NewRegistry(tabular, matrix)
}

// For returns the extractor for v.
func (r *Registry) For(v model.FormatVariant) (Extractor, bool) {
	e, ok := r.byVariant[v]
	return e, ok
}
