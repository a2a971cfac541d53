package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"golang.org/x/sync/errgroup"
)

// Mirror copies source files into a local directory, an S3 store, or both.
type Mirror struct {
	Fetcher Fetcher
	Dir     string
	Store   *S3Store
}

// SavedFile records where a source file was copied.
type SavedFile struct {
	File      catalog.SourceFile `json:"-"`
	Name      string             `json:"name"`
	Locations []string           `json:"locations"`
	Bytes     int                `json:"bytes"`
}

// Save copies one file and returns where it was written.
func (m *Mirror) Save(ctx context.Context, f catalog.SourceFile) (SavedFile, error) {
	if m.Dir == "" && m.Store == nil {
		return SavedFile{}, errors.New("mirror has no destination")
	}

	data, err := readAll(ctx, m.Fetcher, f)
	if err != nil {
		return SavedFile{}, err
	}
	saved := SavedFile{File: f, Name: f.FileName(), Bytes: len(data)}

	if m.Dir != "" {
		p, err := writeFileAtomic(m.Dir, f.FileName(), data)
		if err != nil {
			return SavedFile{}, err
		}
		saved.Locations = append(saved.Locations, p)
	}
	if m.Store != nil {
		if err := m.Store.Put(ctx, f, bytes.NewReader(data), int64(len(data))); err != nil {
			return SavedFile{}, err
		}
		saved.Locations = append(saved.Locations, m.Store.Location(f))
	}

	slog.Info("source file saved", "file", saved.Name, "bytes", saved.Bytes, "locations", saved.Locations)
	return saved, nil
}

// SaveAll copies files with at most limit downloads in flight. The result
// keeps the order of files.
func (m *Mirror) SaveAll(ctx context.Context, files []catalog.SourceFile, limit int) ([]SavedFile, error) {
	out := make([]SavedFile, len(files))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, f := range files {
		g.Go(func() error {
			saved, err := m.Save(ctx, f)
			if err != nil {
				return err
			}
			out[i] = saved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeFileAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}

	p := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return p, nil
}

// MirrorFirst reads from Store and falls back to Origin for files that are
// not mirrored yet, uploading them on the way.
type MirrorFirst struct {
	Store  *S3Store
	Origin Fetcher
}

// Open implements Fetcher.
func (m MirrorFirst) Open(ctx context.Context, f catalog.SourceFile) (io.ReadCloser, error) {
	rc, err := m.Store.Open(ctx, f)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		slog.Warn("mirror unavailable, using origin", "file", f.FileName(), "error", err)
	}

	data, err := readAll(ctx, m.Origin, f)
	if err != nil {
		return nil, err
	}
	if err := m.Store.Put(ctx, f, bytes.NewReader(data), int64(len(data))); err != nil {
		slog.Warn("mirror upload failed", "file", f.FileName(), "error", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// readAll fetches the whole content of f. Read failures are reported as
// retrieval errors.
func readAll(ctx context.Context, fetcher Fetcher, f catalog.SourceFile) ([]byte, error) {
	rc, err := fetcher.Open(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		var re *core.RetrievalError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &core.RetrievalError{Location: f.Location, Err: err}
	}
	return data, nil
}
