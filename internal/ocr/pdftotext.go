package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes doc to a temp file, runs pdftotext -layout on it and
// returns stdout. pdftotext separates pages with form feeds.
func (p *PdfToText) ExtractText(ctx context.Context, doc []byte) (string, error) {
	f, err := os.CreateTemp("", "order-intake-*.pdf")
	if err != nil {
		return "", fail("pdftotext", eris.Wrap(err, "create temp file"))
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(doc); err != nil {
		_ = f.Close()
		return "", fail("pdftotext", eris.Wrap(err, "write temp file"))
	}
	if err := f.Close(); err != nil {
		return "", fail("pdftotext", eris.Wrap(err, "close temp file"))
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", f.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fail("pdftotext", eris.Wrapf(err, "pdftotext failed: %s", stderr.String()))
	}

	return stdout.String(), nil
}
