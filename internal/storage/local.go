package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// URLSigner adds an expiry signature to local access URLs.
type URLSigner interface {
	Sign(key string, expiresUnix int64) string
}

// Local stores objects on the filesystem below a root directory.
type Local struct {
	root      string
	publicURL string
	signer    URLSigner
	now       func() time.Time
}

// LocalOption customises a Local backend.
type LocalOption func(*Local)

// WithSigner makes Presign append expires/signature query parameters.
func WithSigner(s URLSigner) LocalOption {
	return func(l *Local) { l.signer = s }
}

// WithClock overrides the time source used for signed expiries.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// NewLocal creates the root directory if needed.
func NewLocal(root, publicURL string, opts ...LocalOption) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload path: %w", err)
	}
	l := &Local{
		root:      abs,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the absolute storage directory.
func (l *Local) Root() string { return l.root }

// Path resolves key to a filesystem path inside root.
func (l *Local) Path(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	full := filepath.Join(l.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// Put writes to a temp file in the target directory, fsyncs it and renames it
// into place so readers never see a partial object.
func (l *Local) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	dst, err := l.Path(key)
	if err != nil {
		return Wrap("put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return Wrap("put", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Wrap("put", key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return Wrap("put", key, err)
	}
	if size >= 0 && n != size {
		tmp.Close()
		return Wrap("put", key, fmt.Errorf("short write: got %d bytes, want %d", n, size))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Wrap("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return Wrap("put", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return Wrap("put", key, err)
	}
	committed = true
	return nil
}

// Get opens the stored file.
func (l *Local) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.Path(key)
	if err != nil {
		return nil, Wrap("get", key, err)
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("get", key, err)
	}
	return f, nil
}

// Delete removes the file and ignores a missing one.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.Path(key)
	if err != nil {
		return Wrap("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Wrap("delete", key, err)
	}
	return nil
}

// Presign returns PUBLIC_URL/key. Without a signer the URL is deterministic
// and carries no enforced expiry.
func (l *Local) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", Wrap("presign", key, err)
	}
	escaped := make([]string, 0, 8)
	for _, part := range strings.Split(clean, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	u := l.publicURL + "/" + strings.Join(escaped, "/")
	if l.signer == nil {
		return u, nil
	}
	expires := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", l.signer.Sign(clean, expires))
	return u + "?" + q.Encode(), nil
}
