package extract

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// sanitizeNumber rewrites a printed number into the canonical form accepted
// by decimal.NewFromString. Both pt-BR (1.234,56) and en-US (1,234.56)
// separators are understood; when both marks appear the last one is the
// decimal mark. A lone comma is a decimal mark. A lone dot followed by
// exactly three digits, or repeated dots, are thousands separators.
func sanitizeNumber(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return "", false
		}
	}
	if s[0] == '.' || s[0] == ',' || s[len(s)-1] == '.' || s[len(s)-1] == ',' {
		return "", false
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		lastDot := strings.LastIndexByte(s, '.')
		lastComma := strings.LastIndexByte(s, ',')
		if lastComma > lastDot {
			if commas > 1 {
				return "", false
			}
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			if dots > 1 {
				return "", false
			}
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case dots == 1 && len(s)-strings.IndexByte(s, '.')-1 == 3:
		s = strings.Replace(s, ".", "", 1)
	}
	return s, true
}

// IsNumeric reports whether raw is a printed non-negative number.
func IsNumeric(raw string) bool {
	_, ok := sanitizeNumber(raw)
	return ok
}

// ParseDecimal parses a printed amount. Unparsable input yields zero and
// ok=false.
func ParseDecimal(raw string) (decimal.Decimal, bool) {
	s, ok := sanitizeNumber(raw)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var (
	maxQuantity = decimal.NewFromInt(math.MaxInt64)
	minQuantity = decimal.NewFromInt(math.MinInt64)
)

// ParseQuantity parses a printed unit count. Fractional or unparsable
// counts yield zero and ok=false, as do counts outside the int64 range.
func ParseQuantity(raw string) (int64, bool) {
	d, ok := ParseDecimal(raw)
	if !ok || !d.IsInteger() {
		return 0, false
	}
	if d.GreaterThan(maxQuantity) || d.LessThan(minQuantity) {
		return 0, false
	}
	return d.IntPart(), true
}

// NormalizeVendorCode returns the catalog lookup key for a vendor code: the
// code without the suffix after its first '-' or '/' separator.
func NormalizeVendorCode(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexAny(code, "-/"); i > 0 {
		return code[:i]
	}
	return code
}
