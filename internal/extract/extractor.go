// Package extract runs extractions: it selects source files from a catalog,
// reshapes every matching sheet into long-format records and concatenates
// them in catalog order.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	"github.com/JonMunkholm/ndbmedicine/internal/workbook"
	"golang.org/x/sync/errgroup"
)

// DefaultParallel is the number of files processed at once when none is set.
const DefaultParallel = 4

// SheetSource supplies the parsed sheets of a source file.
type SheetSource interface {
	Sheets(ctx context.Context, f catalog.SourceFile) ([]workbook.Sheet, error)
}

// Extractor turns catalog entries into canonical records.
type Extractor struct {
	Catalog  catalog.Catalog
	Sheets   SheetSource
	Parallel int
}

// Result is the outcome of one extraction.
type Result struct {
	Layout   core.LayoutKind
	Criteria core.ExtractionCriteria

	// Files lists the files that contributed records, in catalog order.
	Files []catalog.SourceFile

	// Skipped lists files that did not fit their layout.
	Skipped []SkippedFile

	Records []core.CanonicalRecord
}

// SkippedFile reports a file left out of a result.
type SkippedFile struct {
	File   catalog.SourceFile `json:"-"`
	Name   string             `json:"file"`
	Code   string             `json:"code"`
	Reason string             `json:"reason"`
}

// Hooks observe a run. FileDone may be called from several goroutines.
type Hooks struct {
	Resolved func(files []catalog.SourceFile)
	FileDone func(f catalog.SourceFile, records int, skipped error)
}

// Run extracts every file of layout that matches c.
func (e *Extractor) Run(ctx context.Context, layout core.LayoutKind, c core.ExtractionCriteria) (*Result, error) {
	return e.RunWithHooks(ctx, layout, c, Hooks{})
}

// RunWithHooks is Run with progress callbacks.
//
// Criteria are validated before the catalog is consulted. A file whose
// sheets do not fit the layout is skipped and reported; a retrieval failure
// aborts the whole run.
func (e *Extractor) RunWithHooks(ctx context.Context, layout core.LayoutKind, c core.ExtractionCriteria, hooks Hooks) (*Result, error) {
	if _, ok := core.Lookup(layout); !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedLayout, layout)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Layouts = []core.LayoutKind{layout}

	log := logging.FromContext(ctx)
	start := time.Now()

	resolved, err := e.Catalog.Resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	// The catalog pre-filters; this only guards against a loose one.
	files := catalog.Filter(resolved, c)
	if hooks.Resolved != nil {
		hooks.Resolved(files)
	}
	log.Info("files selected", "layout", layout.String(), "files", len(files))

	type outcome struct {
		records []core.CanonicalRecord
		skipped error
	}
	outcomes := make([]outcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(positiveOr(e.Parallel, DefaultParallel))
	for i, f := range files {
		g.Go(func() error {
			recs, err := e.file(gctx, layout, f, c)
			switch {
			case errors.Is(err, core.ErrStructuralMismatch):
				outcomes[i].skipped = err
				log.Warn("file skipped", "file", f.FileName(), "code", core.MapError(err).Code, "error", err)
			case err != nil:
				return err
			default:
				outcomes[i].records = recs
				log.Info("file extracted", "file", f.FileName(), "records", len(recs))
			}
			if hooks.FileDone != nil {
				hooks.FileDone(f, len(recs), outcomes[i].skipped)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Layout: layout, Criteria: c}
	for i, o := range outcomes {
		if o.skipped != nil {
			res.Skipped = append(res.Skipped, SkippedFile{
				File:   files[i],
				Name:   files[i].FileName(),
				Code:   core.MapError(o.skipped).Code,
				Reason: o.skipped.Error(),
			})
			continue
		}
		res.Files = append(res.Files, files[i])
		res.Records = append(res.Records, o.records...)
	}

	log.Info("extraction completed",
		"layout", layout.String(),
		"records", len(res.Records),
		"files", len(res.Files),
		"skipped", len(res.Skipped),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// file transforms every matching sheet of f. Any sheet that does not fit
// the layout fails the whole file.
func (e *Extractor) file(ctx context.Context, layout core.LayoutKind, f catalog.SourceFile, c core.ExtractionCriteria) ([]core.CanonicalRecord, error) {
	sheets, err := e.Sheets.Sheets(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, core.Mismatch(f.FileName(), -1, -1, "workbook has no data sheets")
	}

	schema, err := core.Describe(layout, f.Round)
	if err != nil {
		return nil, err
	}

	var out []core.CanonicalRecord
	for _, sheet := range sheets {
		care := sheet.CareSetting
		if care == core.CareSettingUnknown {
			care = f.CareSetting
		}
		if care == core.CareSettingUnknown {
			return nil, core.Mismatch(sheet.Grid.Name, -1, -1, "care setting unknown for sheet %q", sheet.Name)
		}

		id := core.NewSourceIdentity(f.Round, f.DosageForm, care)
		if !core.Matches(id, c) {
			continue
		}
		seq, err := core.Transform(sheet.Grid, schema, id, c.IncludeTotal)
		if err != nil {
			return nil, err
		}
		for r := range seq {
			out = append(out, r)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
