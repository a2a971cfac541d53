package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

// Index is an in-memory catalog filled from another catalog. The server
// refreshes it on a schedule so extraction requests do not scrape MHLW.
type Index struct {
	mu        sync.RWMutex
	files     []SourceFile
	refreshed time.Time
}

// NewIndex returns an index holding files.
func NewIndex(files ...SourceFile) *Index {
	ix := &Index{}
	ix.Set(files)
	return ix
}

// Set replaces the indexed files.
func (ix *Index) Set(files []SourceFile) {
	files = slices.Clone(files)
	Sort(files)

	ix.mu.Lock()
	ix.files = files
	ix.refreshed = time.Now()
	ix.mu.Unlock()
}

// Refresh replaces the index with everything from. On error the previous
// listing is kept.
func (ix *Index) Refresh(ctx context.Context, from Catalog) (int, error) {
	start := time.Now()
	files, err := from.Resolve(ctx, core.ExtractionCriteria{})
	if err != nil {
		return 0, err
	}
	ix.Set(files)

	slog.Info("catalog refreshed",
		"files", len(files),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(files), nil
}

// List returns a copy of every indexed file.
func (ix *Index) List() []SourceFile {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Clone(ix.files)
}

// RefreshedAt returns when the index was last replaced.
func (ix *Index) RefreshedAt() time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.refreshed
}

// Resolve implements Catalog.
func (ix *Index) Resolve(_ context.Context, c core.ExtractionCriteria) ([]SourceFile, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Filter(ix.files, c), nil
}
