package ocr

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// PlainText accepts documents that are already text. Valid UTF-8 passes
// through; anything else is decoded from the configured legacy charset,
// Windows-1252 by default, which is what ERP text exports use.
type PlainText struct {
	enc encoding.Encoding
}

// NewPlainText creates a PlainText extractor for charset (an HTML/IANA
// name such as "iso-8859-1"). An empty charset means Windows-1252.
func NewPlainText(charset string) (*PlainText, error) {
	if charset == "" {
		return &PlainText{enc: charmap.Windows1252}, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: unknown charset %q", charset)
	}
	return &PlainText{enc: enc}, nil
}

// ExtractText implements Extractor.
func (p *PlainText) ExtractText(_ context.Context, doc []byte) (string, error) {
	if utf8.Valid(doc) {
		return strings.TrimPrefix(string(doc), "\ufeff"), nil
	}
	out, err := p.enc.NewDecoder().Bytes(doc)
	if err != nil {
		return "", fail("text", eris.Wrap(err, "decode"))
	}
	return string(out), nil
}
