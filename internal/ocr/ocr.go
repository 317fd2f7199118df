// Package ocr turns raw documents into text. Backends are tried in order:
// a primary, then a fallback only when the primary fails.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/config"
)

// Extractor extracts the full text of a document. Pages are separated by
// form feeds when the backend knows page boundaries. An empty string with a
// nil error means the document has no text, which is not a failure.
type Extractor interface {
	ExtractText(ctx context.Context, doc []byte) (string, error)
}

// ExtractionError reports that a backend could not produce text.
type ExtractionError struct {
	Backend string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("ocr: %s extraction failed: %v", e.Backend, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtractionError reports whether err came from a failing backend.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

func fail(backend string, err error) error {
	return &ExtractionError{Backend: backend, Err: err}
}

// Chain tries Primary and falls back to Fallback when Primary fails. An
// empty result from Primary is returned as is.
type Chain struct {
	Primary  Extractor
	Fallback Extractor
}

// ExtractText implements Extractor.
func (c *Chain) ExtractText(ctx context.Context, doc []byte) (string, error) {
	text, err := c.Primary.ExtractText(ctx, doc)
	if err == nil {
		return text, nil
	}
	if c.Fallback == nil {
		return "", ensureExtractionError("primary", err)
	}
	zap.L().Warn("ocr: primary backend failed, trying fallback", zap.Error(err))

	text, ferr := c.Fallback.ExtractText(ctx, doc)
	if ferr != nil {
		return "", &ExtractionError{Backend: "fallback", Err: errors.Join(err, ferr)}
	}
	return text, nil
}

func ensureExtractionError(backend string, err error) error {
	if IsExtractionError(err) {
		return err
	}
	return fail(backend, err)
}

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether doc starts with the PDF signature.
func IsPDF(doc []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(doc, " \t\r\n"), pdfMagic)
}

// Auto sends PDFs to PDF and everything else to Text.
type Auto struct {
	PDF  Extractor
	Text Extractor
}

// ExtractText implements Extractor.
func (a *Auto) ExtractText(ctx context.Context, doc []byte) (string, error) {
	if IsPDF(doc) {
		return a.PDF.ExtractText(ctx, doc)
	}
	return a.Text.ExtractText(ctx, doc)
}

// NewExtractor builds the extractor described by cfg: PDFs go through the
// primary backend with the configured fallback, other inputs are decoded as
// plain text.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	primary, err := newBackend(cfg.Primary, cfg)
	if err != nil {
		return nil, err
	}
	chain := &Chain{Primary: primary}
	if cfg.Fallback != "" && cfg.Fallback != "none" {
		chain.Fallback, err = newBackend(cfg.Fallback, cfg)
		if err != nil {
			return nil, err
		}
	}
	text, err := NewPlainText(cfg.Charset)
	if err != nil {
		return nil, err
	}
	return &Auto{PDF: chain, Text: text}, nil
}

func newBackend(name string, cfg config.OCRConfig) (Extractor, error) {
	switch name {
	case "pdftotext", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "pdfreader":
		return NewPDFReader(), nil
	case "mistral":
		if cfg.MistralAPIKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralAPIKey, cfg.MistralModel), nil
	case "text":
		return NewPlainText(cfg.Charset)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", name)
	}
}
