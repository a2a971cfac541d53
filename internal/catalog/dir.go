package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

// DirCatalog lists workbooks saved under Dir with their canonical
// FileName. Files with other names are ignored.
type DirCatalog struct {
	Dir string
}

// Resolve implements Catalog.
func (d DirCatalog) Resolve(ctx context.Context, c core.ExtractionCriteria) ([]SourceFile, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, &core.RetrievalError{Location: d.Dir, Err: err}
	}

	var files []SourceFile
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		f, err := ParseFileName(e.Name())
		if err != nil {
			slog.Debug("ignoring file", "dir", d.Dir, "name", e.Name(), "error", err)
			continue
		}
		f.Location = filepath.Join(d.Dir, e.Name())
		files = append(files, f)
	}

	Sort(files)
	return Filter(files, c), nil
}
