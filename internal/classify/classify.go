// Package classify decides which issuing chain produced a document, what
// kind of document it is and which number it carries.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

// Axis scores.
const (
	TaxIDScore = 0.95
	BrandScore = 0.80
)

type issuerMatcher struct {
	issuer model.Issuer
	roots  []*regexp.Regexp
	brands []*regexp.Regexp
}

// Classifier scores text against a pattern library. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	lib     *patterns.Library
	issuers []issuerMatcher
}

// New builds a classifier over lib.
func New(lib *patterns.Library) *Classifier {
	c := &Classifier{lib: lib}
	for _, ip := range lib.Issuers {
		m := issuerMatcher{issuer: ip.Issuer, brands: ip.Brands}
		for _, root := range ip.TaxIDRoots {
			if re := rootPattern(root); re != nil {
				m.roots = append(m.roots, re)
			}
		}
		c.issuers = append(c.issuers, m)
	}
	return c
}

// rootPattern matches an 8-digit tax-id root printed with or without its
// punctuation (93209765 or 93.209.765).
func rootPattern(root string) *regexp.Regexp {
	d := model.DigitsOnly(root)
	if len(d) != 8 {
		return nil
	}
	return regexp.MustCompile(`\b` + d[0:2] + `\.?` + d[2:5] + `\.?` + d[5:8])
}

// Classify scores the first page and the extended text and returns the
// document identity. Absence of matches yields Unknown axes, never an error.
func (c *Classifier) Classify(firstPage, extended string) model.DocumentIdentity {
	if extended == "" {
		extended = firstPage
	}
	foldedFirst := patterns.Fold(firstPage)
	foldedExt := patterns.Fold(extended)

	var evidence []string

	issuer, issuerScore, why := c.issuer(firstPage, foldedFirst, foldedExt)
	if why != "" {
		evidence = append(evidence, why)
	}

	subtype, subtypeScore, why := c.subtype(foldedExt)
	if why != "" {
		evidence = append(evidence, why)
	}

	number := c.documentNumber(model.FormatKey{Issuer: issuer, Subtype: subtype}, foldedExt)
	if number != "" {
		evidence = append(evidence, "document_number="+number)
	}

	id := model.DocumentIdentity{
		Issuer:         issuer,
		Subtype:        subtype,
		DocumentNumber: number,
		IssuerScore:    issuerScore,
		SubtypeScore:   subtypeScore,
		Confidence:     (issuerScore + subtypeScore) / 2,
		Evidence:       strings.Join(evidence, "; "),
	}

	zap.L().Debug("classify: identity resolved",
		zap.String("issuer", string(id.Issuer)),
		zap.String("subtype", string(id.Subtype)),
		zap.String("document_number", id.DocumentNumber),
		zap.Float64("confidence", id.Confidence),
	)
	return id
}

// ClassifyText classifies a full document, using its first page (the text
// before the first form feed) for the issuer axis.
func (c *Classifier) ClassifyText(text string) model.DocumentIdentity {
	return c.Classify(FirstPage(text), text)
}

// issuer tests tax-id roots on the raw first page, then brand patterns on
// the folded first page and the folded extended text. The first issuer in
// declaration order that matches wins.
func (c *Classifier) issuer(rawFirst, foldedFirst, foldedExt string) (model.Issuer, float64, string) {
	for _, m := range c.issuers {
		for _, re := range m.roots {
			if loc := re.FindString(rawFirst); loc != "" {
				return m.issuer, TaxIDScore, "tax_id_root=" + model.DigitsOnly(loc)
			}
		}
	}
	for _, text := range []string{foldedFirst, foldedExt} {
		for _, m := range c.issuers {
			for _, re := range m.brands {
				if loc := re.FindString(text); loc != "" {
					return m.issuer, BrandScore, "brand=" + loc
				}
			}
		}
	}
	return model.IssuerUnknown, 0, ""
}

// subtype computes the normalized weighted score for each subtype. A strict
// comparison keeps the earlier subtype on ties.
func (c *Classifier) subtype(folded string) (model.DocSubtype, float64, string) {
	best, bestScore := model.SubtypeUnknown, 0.0
	var matched []string
	for _, sp := range c.lib.Subtypes {
		total := sp.TotalWeight()
		if total == 0 {
			continue
		}
		var sum float64
		var names []string
		for _, p := range sp.Patterns {
			if p.Regex.MatchString(folded) {
				sum += p.Weight
				names = append(names, p.Name)
			}
		}
		score := sum / total
		if score > bestScore {
			best, bestScore, matched = sp.Subtype, score, names
		}
	}
	if best == model.SubtypeUnknown {
		return best, 0, ""
	}
	return best, bestScore, fmt.Sprintf("subtype=%s(%.2f:%s)", best, bestScore, strings.Join(matched, ","))
}

// DocumentNumber looks up the document number of text as a document of
// the given format.
func (c *Classifier) DocumentNumber(key model.FormatKey, text string) string {
	return c.documentNumber(key, patterns.Fold(text))
}

// documentNumber tries the issuer+subtype specific patterns, then the
// generic list. The first match wins.
func (c *Classifier) documentNumber(key model.FormatKey, folded string) string {
	for _, np := range c.lib.SpecificNumbers {
		if np.Key != key {
			continue
		}
		if v := patterns.FirstGroup(np.Regex, folded); v != "" {
			return v
		}
	}
	for _, re := range c.lib.GenericNumbers {
		if v := patterns.FirstGroup(re, folded); v != "" {
			return v
		}
	}
	return ""
}

// FirstPage returns the text before the first form feed, or all of text
// when it has none.
func FirstPage(text string) string {
	return FirstPages(text, 1)
}

// FirstPages returns the first n form-feed separated pages of text.
func FirstPages(text string, n int) string {
	if n < 1 {
		n = 1
	}
	end := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(text[end:], '\f')
		if j < 0 {
			return text
		}
		end += j + 1
	}
	return text[:end-1]
}
