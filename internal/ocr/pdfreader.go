package ocr

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// PDFReader extracts the text layer with a pure-Go PDF parser. It needs no
// external binary, which makes it the usual fallback for pdftotext.
type PDFReader struct{}

// NewPDFReader creates a PDFReader.
func NewPDFReader() *PDFReader {
	return &PDFReader{}
}

// ExtractText implements Extractor. Pages are joined with form feeds;
// unreadable pages are kept as empty pages so page numbering holds.
func (PDFReader) ExtractText(ctx context.Context, doc []byte) (text string, err error) {
	if len(doc) == 0 {
		return "", fail("pdfreader", eris.New("empty document"))
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fail("pdfreader", eris.Errorf("parser panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", fail("pdfreader", eris.Wrap(err, "open pdf"))
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", fail("pdfreader", err)
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pt, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, pt)
	}
	return strings.Join(pages, "\f"), nil
}
