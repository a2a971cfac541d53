package source

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/JonMunkholm/ndbmedicine/internal/workbook"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds one shared fetch and parse.
const DefaultLoadTimeout = 10 * time.Minute

// Supplier fetches and parses source workbooks. Parsed sheets are cached
// by location and concurrent requests for the same file share one fetch.
//
// A shared fetch does not inherit the cancellation of the caller that
// started it; every caller stops waiting when its own context ends.
type Supplier struct {
	// LoadTimeout bounds one shared load (default: DefaultLoadTimeout).
	LoadTimeout time.Duration

	fetcher  Fetcher
	cache    *lru.Cache[string, []workbook.Sheet]
	group    singleflight.Group
	encoding workbook.Encoding
}

// NewSupplier returns a supplier caching up to cacheSize parsed workbooks.
// A non-positive size disables the cache.
func NewSupplier(fetcher Fetcher, cacheSize int, csvEncoding workbook.Encoding) (*Supplier, error) {
	s := &Supplier{fetcher: fetcher, encoding: csvEncoding}
	if cacheSize > 0 {
		cache, err := lru.New[string, []workbook.Sheet](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

// Sheets returns the data sheets of f. Retrieval failures are
// *core.RetrievalError; unreadable content is *core.StructuralMismatchError.
// The returned sheets are shared and must not be modified.
func (s *Supplier) Sheets(ctx context.Context, f catalog.SourceFile) ([]workbook.Sheet, error) {
	key := f.Location
	if key == "" {
		key = f.FileName()
	}
	if s.cache != nil {
		if sheets, ok := s.cache.Get(key); ok {
			return sheets, nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		timeout := s.LoadTimeout
		if timeout <= 0 {
			timeout = DefaultLoadTimeout
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		sheets, err := s.load(lctx, f)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Add(key, sheets)
		}
		return sheets, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]workbook.Sheet), nil
	case <-ctx.Done():
		return nil, &core.RetrievalError{Location: f.Location, Err: ctx.Err()}
	}
}

// Purge drops every cached workbook.
func (s *Supplier) Purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Cached returns the number of cached workbooks.
func (s *Supplier) Cached() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

func (s *Supplier) load(ctx context.Context, f catalog.SourceFile) ([]workbook.Sheet, error) {
	data, err := readAll(ctx, s.fetcher, f)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(path.Ext(f.Location), ".csv") {
		return workbook.ReadCSV(bytes.NewReader(data), f.FileName(), s.encoding)
	}
	return workbook.Read(bytes.NewReader(data), f.FileName())
}
