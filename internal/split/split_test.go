package split

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/patterns"
)

func newTestSplitter(t *testing.T) *Splitter {
	t.Helper()
	lib, err := patterns.Default()
	require.NoError(t, err)
	return New(lib)
}

func joined(sections []model.BranchSection) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString(s.Text)
	}
	return b.String()
}

func assertPartition(t *testing.T, text string, sections []model.BranchSection) {
	t.Helper()
	prevEnd := 0
	for i, s := range sections {
		assert.Equal(t, i, s.Index)
		assert.GreaterOrEqual(t, s.Start, prevEnd, "section %d overlaps", i)
		assert.Equal(t, text[s.Start:s.End], s.Text)
		prevEnd = s.End
	}
}

func TestSplit_TabularByTaxID(t *testing.T) {
	t.Parallel()

	s := newTestSplitter(t)
	text := "PROPOSTA DE COMPRA 123\n" +
		"LOJA: CENTRO   CNPJ: 93.209.765/0001-10\n" +
		"1 1111 ARROZ 10 5,00\n" +
		"LOJA: NORTE   CNPJ: 93.209.765/0002-00\n" +
		"1 2222 FEIJAO 3 7,50\n"

	sections := s.Split(text, model.LayoutTabularByTaxID, nil)

	require.Len(t, sections, 2)
	assert.Equal(t, text, joined(sections))
	assertPartition(t, text, sections)
	assert.True(t, strings.HasPrefix(sections[0].Text, "PROPOSTA"), "preamble joins first section")
	assert.True(t, strings.HasPrefix(sections[1].Text, "LOJA: NORTE"), "section starts at the anchor line")
	assert.Contains(t, sections[1].Text, "FEIJAO")
}

func TestSplit_TabularCustomAnchor(t *testing.T) {
	t.Parallel()

	s := newTestSplitter(t)
	anchor := regexp.MustCompile(`(?i)CNPJ\s+DA\s+LOJA\s*:?\s*\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)
	text := "EMITENTE CNPJ 93.209.765/0001-10\n" +
		"CNPJ DA LOJA: 93.209.765/0011-91\nitem a\n" +
		"CNPJ DA LOJA: 93.209.765/0012-72\nitem b\n"

	generic := s.Split(text, model.LayoutTabularByTaxID, nil)
	custom := s.Split(text, model.LayoutTabularByTaxID, anchor)

	assert.Len(t, generic, 3)
	require.Len(t, custom, 2)
	assert.Contains(t, custom[0].Text, "EMITENTE")
	assert.Contains(t, custom[0].Text, "item a")
	assert.Contains(t, custom[1].Text, "item b")
}

func TestSplit_TabularSameLineAnchors(t *testing.T) {
	t.Parallel()

	s := newTestSplitter(t)
	text := "A 93209765000110 B 93209765000200\nnext 93209765000300\n"
	sections := s.Split(text, model.LayoutTabularByTaxID, nil)
	require.Len(t, sections, 2)
	assert.Equal(t, text, joined(sections))
}

func TestSplit_PaginatedByBranch(t *testing.T) {
	t.Parallel()

	s := newTestSplitter(t)

	t.Run("form feeds", func(t *testing.T) {
		t.Parallel()
		text := "HEADER LOJA 1\nPAGINA 1 DE 2\nitem 1\f" +
			"HEADER LOJA 1\nPAGINA 2 DE 2\nitem 2\f" +
			"HEADER LOJA 2\nPAGINA 1 DE 1\nitem 3\f"
		sections := s.Split(text, model.LayoutPaginatedByBranch, nil)
		require.Len(t, sections, 2)
		assert.Equal(t, text, joined(sections))
		assertPartition(t, text, sections)
		assert.Contains(t, sections[0].Text, "item 2")
		assert.True(t, strings.HasPrefix(sections[1].Text, "HEADER LOJA 2"))
	})

	t.Run("no form feeds", func(t *testing.T) {
		t.Parallel()
		text := "Pág. 1/1\nloja a\nPág. 1/2\nloja b\nPág. 2/2\nloja b cont\n"
		sections := s.Split(text, model.LayoutPaginatedByBranch, nil)
		require.Len(t, sections, 2)
		assert.Equal(t, "Pág. 1/1\nloja a\n", sections[0].Text)
		assert.Contains(t, sections[1].Text, "loja b cont")
	})

	t.Run("duplicate marker on the same page", func(t *testing.T) {
		t.Parallel()
		text := "PAGINA 1\nloja a\nPAGINA 1 DE 1\f" + "PAGINA 1\nloja b\f"
		sections := s.Split(text, model.LayoutPaginatedByBranch, nil)
		require.Len(t, sections, 2)
		assert.Contains(t, sections[0].Text, "loja a")
		assert.Contains(t, sections[1].Text, "loja b")
	})
}

func TestSplit_DegradedMode(t *testing.T) {
	t.Parallel()

	s := newTestSplitter(t)
	text := "no anchors or markers here\nWIDGET  1  2,00\n"

	for _, layout := range []model.LayoutFamily{model.LayoutTabularByTaxID, model.LayoutPaginatedByBranch} {
		sections := s.Split(text, layout, nil)
		require.Len(t, sections, 1, "layout %s", layout)
		assert.Equal(t, text, sections[0].Text)
		assert.Equal(t, 0, sections[0].Start)
		assert.Equal(t, len(text), sections[0].End)
	}
}

func TestSplit_DropsWhitespaceSections(t *testing.T) {
	t.Parallel()

	assert.Empty(t, newTestSplitter(t).Split("  \n\t ", model.LayoutTabularByTaxID, nil))

	sections := Sections("   \nabc\n", []int{0, 4})
	require.Len(t, sections, 1)
	assert.Equal(t, 0, sections[0].Index)
	assert.Equal(t, 4, sections[0].Start)
	assert.Equal(t, "abc\n", sections[0].Text)
}

func TestBoundaries_NilPatterns(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []int{0}, AnchorBoundaries("x", nil))
	assert.Equal(t, []int{0}, PageResetBoundaries("x", nil))
}
