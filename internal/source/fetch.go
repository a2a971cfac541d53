// Package source retrieves published workbooks and supplies parsed grids.
//
// Fetchers open the raw bytes of a catalog entry: over HTTP from MHLW,
// from a local directory, or from an S3-compatible mirror. Supplier sits on
// top, parsing workbooks and caching the result.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

// Fetcher opens the raw content of a source file. Failures are
// *core.RetrievalError.
type Fetcher interface {
	Open(ctx context.Context, f catalog.SourceFile) (io.ReadCloser, error)
}

// DefaultMaxBytes bounds a single download.
const DefaultMaxBytes int64 = 256 << 20

// ErrTooLarge is returned when a download exceeds its size limit.
var ErrTooLarge = errors.New("source file exceeds size limit")

// HTTPFetcher downloads files whose Location is an http(s) URL.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// NewHTTPFetcher returns a fetcher with the given timeout and user agent.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBytes:  DefaultMaxBytes,
	}
}

// Open implements Fetcher.
func (h *HTTPFetcher) Open(ctx context.Context, f catalog.SourceFile) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Location, nil)
	if err != nil {
		return nil, &core.RetrievalError{Location: f.Location, Err: err}
	}
	req.Header.Set("User-Agent", h.UserAgent)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.RetrievalError{Location: f.Location, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &core.RetrievalError{Location: f.Location, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if resp.ContentLength > limit {
		resp.Body.Close()
		return nil, &core.RetrievalError{Location: f.Location, Err: ErrTooLarge}
	}
	return readCloser{newCountingReader(resp.Body, limit), resp.Body}, nil
}

// FileFetcher opens files from the local filesystem. A relative Location
// is resolved against Dir; an empty one is Dir/FileName().
type FileFetcher struct {
	Dir string
}

// Open implements Fetcher.
func (d FileFetcher) Open(_ context.Context, f catalog.SourceFile) (io.ReadCloser, error) {
	p := f.Location
	switch {
	case p == "":
		p = filepath.Join(d.Dir, f.FileName())
	case !filepath.IsAbs(p) && d.Dir != "":
		p = filepath.Join(d.Dir, p)
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, &core.RetrievalError{Location: p, Err: err}
	}
	return file, nil
}

// Router dispatches on the Location scheme: http(s) URLs go to HTTP,
// s3:// locations to S3 and everything else to File.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
	File Fetcher
}

// Open implements Fetcher.
func (r Router) Open(ctx context.Context, f catalog.SourceFile) (io.ReadCloser, error) {
	var next Fetcher
	switch loc := strings.ToLower(f.Location); {
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		next = r.HTTP
	case strings.HasPrefix(loc, s3Scheme):
		next = r.S3
	default:
		next = r.File
	}
	if next == nil {
		return nil, &core.RetrievalError{Location: f.Location, Err: errors.New("no fetcher for location")}
	}
	return next.Open(ctx, f)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// countingReader tracks bytes read and fails once more than limit bytes
// have been read.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

func newCountingReader(r io.Reader, limit int64) *countingReader {
	return &countingReader{r: r, limit: limit}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, ErrTooLarge
	}
	return n, err
}
