package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ProcessedDir is the inbox subdirectory that handled documents move to.
const ProcessedDir = "processed"

// FTPOptions configures FTP access. Credentials in the URL take precedence;
// without either, the login is anonymous.
type FTPOptions struct {
	User     string
	Password string
	Timeout  time.Duration
}

// FTPFetcher downloads files over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and credentials from an FTP URL.
func parseFTPURL(rawURL string, opts FTPOptions) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: opts.User, password: opts.Password}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			t.password = pw
		}
	}
	if t.user == "" {
		t.user, t.password = "anonymous", "anonymous@"
	}
	return t, nil
}

func dialFTP(ctx context.Context, t ftpTarget, timeout time.Duration) (*ftp.ServerConn, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: ftp dial")
	}
	if err := conn.Login(t.user, t.password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}
	return conn, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a reader.
// The caller must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(ftpURL, f.opts)
	if err != nil {
		return nil, err
	}
	if t.path == "" || strings.HasSuffix(t.path, "/") {
		return nil, eris.Errorf("fetcher: ftp url %q names no file", ftpURL)
	}

	conn, err := dialFTP(ctx, t, f.opts.Timeout)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", t.path)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// InboxEntry is a file waiting in an FTP inbox.
type InboxEntry struct {
	Name     string
	Size     uint64
	Modified time.Time
}

// FTPInbox is a directory on an FTP server where customers drop purchase
// documents. Handled files move into a processed/ subdirectory.
type FTPInbox struct {
	target  ftpTarget
	timeout time.Duration
	max     int64
}

// NewFTPInbox parses an ftp:// URL naming the inbox directory.
func NewFTPInbox(rawURL string, opts FTPOptions) (*FTPInbox, error) {
	t, err := parseFTPURL(rawURL, opts)
	if err != nil {
		return nil, err
	}
	if t.path == "" {
		t.path = "/"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPInbox{target: t, timeout: opts.Timeout, max: DefaultMaxBytes}, nil
}

// Dir returns the inbox directory.
func (b *FTPInbox) Dir() string { return b.target.path }

// List returns the regular files in the inbox, sorted by name.
func (b *FTPInbox) List(ctx context.Context) ([]InboxEntry, error) {
	conn, err := dialFTP(ctx, b.target, b.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	entries, err := conn.List(b.target.path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp list %s", b.target.path)
	}

	out := make([]InboxEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || strings.HasPrefix(e.Name, ".") {
			continue
		}
		out = append(out, InboxEntry{Name: e.Name, Size: e.Size, Modified: e.Time})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Fetch downloads one inbox file into memory.
func (b *FTPInbox) Fetch(ctx context.Context, name string) (*Document, error) {
	conn, err := dialFTP(ctx, b.target, b.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	p := path.Join(b.target.path, name)
	resp, err := conn.Retr(p)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", p)
	}
	defer resp.Close() //nolint:errcheck

	data, err := readLimited(resp, b.max)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", p)
	}
	return &Document{Name: name, Data: data}, nil
}

// MarkProcessed moves an inbox file into the processed/ subdirectory,
// creating it when missing.
func (b *FTPInbox) MarkProcessed(ctx context.Context, name string) error {
	conn, err := dialFTP(ctx, b.target, b.timeout)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck

	dir := path.Join(b.target.path, ProcessedDir)
	// MakeDir fails when the directory exists; the rename below reports
	// any real problem.
	if err := conn.MakeDir(dir); err != nil {
		zap.L().Debug("ftp: make processed dir", zap.String("dir", dir), zap.Error(err))
	}

	from := path.Join(b.target.path, name)
	to := path.Join(dir, name)
	if err := conn.Rename(from, to); err != nil {
		return eris.Wrapf(err, "fetcher: ftp rename %s", from)
	}
	return nil
}
