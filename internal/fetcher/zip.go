package fetcher

import (
	"archive/zip"
	"bytes"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// IsZIP reports whether data starts with a ZIP local file header.
func IsZIP(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}

// UnpackZIP returns the documents in an in-memory archive, in archive order.
// Directories, macOS resource forks and dotfiles are skipped. Entry names
// that escape the archive root are rejected, as is any entry larger than
// DefaultMaxBytes once decompressed.
func UnpackZIP(data []byte) ([]Document, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var docs []Document
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
		}
		if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), ".") {
			continue
		}

		body, err := readZIPEntry(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Name: name, Data: body})
	}
	return docs, nil
}

func readZIPEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	body, err := readLimited(rc, DefaultMaxBytes)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
	}
	return body, nil
}
