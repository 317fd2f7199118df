// Package split partitions document text into per-branch sections.
package split

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

// Splitter cuts documents at tax-id anchors or page-index resets.
type Splitter struct {
	taxID      *regexp.Regexp
	pageMarker *regexp.Regexp
}

// New builds a splitter from the shared library patterns.
func New(lib *patterns.Library) *Splitter {
	return &Splitter{taxID: lib.TaxID, pageMarker: lib.PageMarker}
}

// Split partitions text for the given layout family. anchor overrides the
// generic tax-id pattern for the tabular layout and may be nil. The sections
// cover the text without gaps or overlaps, in order; whitespace-only
// sections are dropped.
func (s *Splitter) Split(text string, layout model.LayoutFamily, anchor *regexp.Regexp) []model.BranchSection {
	var bounds []int
	switch layout {
	case model.LayoutPaginatedByBranch:
		bounds = PageResetBoundaries(text, s.pageMarker)
	default:
		if anchor == nil {
			anchor = s.taxID
		}
		bounds = AnchorBoundaries(text, anchor)
	}

	sections := Sections(text, bounds)
	zap.L().Debug("split: document partitioned",
		zap.String("layout", string(layout)),
		zap.Int("boundaries", len(bounds)),
		zap.Int("sections", len(sections)),
	)
	return sections
}

// AnchorBoundaries returns section start offsets for the tax-id layout. Each
// anchor starts a section at the beginning of its line; text before the
// first anchor stays with the first section.
func AnchorBoundaries(text string, anchor *regexp.Regexp) []int {
	bounds := []int{0}
	if anchor == nil {
		return bounds
	}
	for i, loc := range anchor.FindAllStringIndex(text, -1) {
		if i == 0 {
			continue
		}
		bounds = appendBoundary(bounds, lineStart(text, loc[0]))
	}
	return bounds
}

// PageResetBoundaries returns section start offsets for the paginated
// layout: a new branch starts where the page index resets to 1. The
// boundary is the start of that page when the text carries form feeds, and
// the marker's line otherwise.
func PageResetBoundaries(text string, marker *regexp.Regexp) []int {
	bounds := []int{0}
	if marker == nil {
		return bounds
	}
	pageGroup := marker.SubexpIndex("page")
	if pageGroup < 0 {
		pageGroup = 1
	}
	hasFormFeed := strings.IndexByte(text, '\f') >= 0

	seenFirst := false
	for _, m := range marker.FindAllStringSubmatchIndex(text, -1) {
		if 2*pageGroup+1 >= len(m) || m[2*pageGroup] < 0 {
			continue
		}
		page, err := strconv.Atoi(text[m[2*pageGroup]:m[2*pageGroup+1]])
		if err != nil || page != 1 {
			continue
		}
		if !seenFirst {
			seenFirst = true
			continue
		}
		var at int
		if hasFormFeed {
			at = pageStart(text, m[0])
		} else {
			at = lineStart(text, m[0])
		}
		bounds = appendBoundary(bounds, at)
	}
	return bounds
}

// Sections slices text at strictly increasing bounds (the first must be 0)
// and drops whitespace-only pieces.
func Sections(text string, bounds []int) []model.BranchSection {
	var out []model.BranchSection
	for i, start := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		piece := text[start:end]
		if strings.TrimSpace(piece) == "" {
			continue
		}
		out = append(out, model.BranchSection{
			Index: len(out),
			Start: start,
			End:   end,
			Text:  piece,
		})
	}
	return out
}

func appendBoundary(bounds []int, at int) []int {
	if at <= bounds[len(bounds)-1] {
		return bounds
	}
	return append(bounds, at)
}

func lineStart(text string, i int) int {
	return strings.LastIndexByte(text[:i], '\n') + 1
}

func pageStart(text string, i int) int {
	return strings.LastIndexByte(text[:i], '\f') + 1
}
