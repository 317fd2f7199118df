package model

import "strings"

// TaxIDLength is the digit count of a fully printed company tax id (CNPJ).
const TaxIDLength = 14

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatTaxID canonicalizes a tax id to NN.NNN.NNN/NNNN-NN when it carries
// exactly 14 digits. Anything else is returned trimmed but unchanged.
func FormatTaxID(raw string) string {
	d := DigitsOnly(raw)
	if len(d) != TaxIDLength {
		return strings.TrimSpace(raw)
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

// TaxIDRoot returns the 8-digit company root of a tax id, or "" when the
// id is too short.
func TaxIDRoot(raw string) string {
	d := DigitsOnly(raw)
	if len(d) < 8 {
		return ""
	}
	return d[:8]
}
