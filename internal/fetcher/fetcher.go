// Package fetcher loads purchase documents and catalog imports from local
// paths, HTTP(S) URLs and FTP servers, and parses CSV, XLSX, JSON and ZIP
// payloads.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMaxBytes bounds a single fetched document.
const DefaultMaxBytes int64 = 64 << 20

// ErrTooLarge is returned when a document exceeds the size limit.
var ErrTooLarge = eris.New("fetcher: document too large")

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Document is a fetched file held in memory.
type Document struct {
	Name string
	Data []byte
}

// Opener resolves document references to bytes.
type Opener struct {
	HTTP     Fetcher
	FTP      Fetcher
	MaxBytes int64
}

// NewOpener builds an Opener with HTTP and FTP fetchers.
func NewOpener(httpOpts HTTPOptions, ftpOpts FTPOptions) *Opener {
	return &Opener{
		HTTP:     NewHTTPFetcher(httpOpts),
		FTP:      NewFTPFetcher(ftpOpts),
		MaxBytes: DefaultMaxBytes,
	}
}

// Open reads ref, which is a local path, a file:// URL, an http(s):// URL or
// an ftp:// URL.
func (o *Opener) Open(ctx context.Context, ref string) (*Document, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return o.openFile(ref)
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "file":
		return o.openFile(u.Path)
	case "http", "https":
		f = o.HTTP
	case "ftp":
		f = o.FTP
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher for scheme %q", u.Scheme)
	}

	zap.L().Debug("fetcher: downloading", zap.String("ref", ref))
	rc, err := f.Download(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := readLimited(rc, o.maxBytes())
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", ref)
	}
	return &Document{Name: path.Base(u.Path), Data: data}, nil
}

func (o *Opener) openFile(p string) (*Document, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", p)
	}
	defer f.Close() //nolint:errcheck

	data, err := readLimited(f, o.maxBytes())
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", p)
	}
	return &Document{Name: baseName(p), Data: data}, nil
}

func (o *Opener) maxBytes() int64 {
	if o.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return o.MaxBytes
}

// readLimited reads at most limit bytes and fails when more are available.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Base(p)
}
