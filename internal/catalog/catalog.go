// Package catalog knows where the published prescription workbooks live.
//
// A Catalog turns extraction criteria into the list of source files to
// process. WebCatalog scrapes the MHLW NDB open data pages, DirCatalog reads
// a directory of previously saved files, and Index keeps the last known
// listing in memory for the server.
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

// SourceFile is one published workbook.
type SourceFile struct {
	Round       core.Round
	DosageForm  core.DosageForm
	CareSetting core.CareSetting // CareSettingUnknown when the workbook has one sheet per care setting
	Layout      core.LayoutKind

	// Location is a URL, a file path or an object key, depending on the catalog.
	Location string
}

// Identity returns the identity shared by every sheet of the file.
func (f SourceFile) Identity() core.SourceIdentity {
	return core.NewSourceIdentity(f.Round, f.DosageForm, f.CareSetting)
}

// Matches reports whether the file can contribute records for c.
func (f SourceFile) Matches(c core.ExtractionCriteria) bool {
	return core.MatchesFile(f.Identity(), f.Layout, c)
}

// FileName returns the canonical save name, e.g. "04_内服_外来（院外）_性年齢別.xlsx".
// The care-setting part is empty for multi-sheet workbooks.
func (f SourceFile) FileName() string {
	return fmt.Sprintf("%s_%s_%s_%s%s", f.Round, f.DosageForm.Label(), f.CareSetting.Label(), f.Layout.Label(), extOf(f.Location))
}

func (f SourceFile) String() string {
	return strings.TrimSuffix(f.FileName(), extOf(f.Location))
}

func extOf(location string) string {
	if strings.EqualFold(path.Ext(location), ".csv") {
		return ".csv"
	}
	return ".xlsx"
}

// ParseFileName is the inverse of FileName. Location is left empty.
func ParseFileName(name string) (SourceFile, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := path.Ext(base)
	if !strings.EqualFold(ext, ".xlsx") && !strings.EqualFold(ext, ".csv") {
		return SourceFile{}, fmt.Errorf("parse file name %q: unsupported extension", name)
	}

	parts := strings.Split(strings.TrimSuffix(base, ext), "_")
	if len(parts) != 4 {
		return SourceFile{}, fmt.Errorf("parse file name %q: want round_dosage_care_layout", name)
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 1 {
		return SourceFile{}, fmt.Errorf("parse file name %q: bad round %q", name, parts[0])
	}
	f := SourceFile{Round: core.Round(n)}

	if f.DosageForm, err = core.ParseDosageForm(parts[1]); err != nil {
		return SourceFile{}, fmt.Errorf("parse file name %q: %w", name, err)
	}
	if parts[2] != "" {
		if f.CareSetting, err = core.ParseCareSetting(parts[2]); err != nil {
			return SourceFile{}, fmt.Errorf("parse file name %q: %w", name, err)
		}
	}
	if f.Layout, err = core.ParseLayoutKind(parts[3]); err != nil {
		return SourceFile{}, fmt.Errorf("parse file name %q: %w", name, err)
	}
	return f, nil
}

// Catalog resolves extraction criteria to source files.
type Catalog interface {
	Resolve(ctx context.Context, c core.ExtractionCriteria) ([]SourceFile, error)
}

// Filter returns the files matching c in catalog order.
func Filter(files []SourceFile, c core.ExtractionCriteria) []SourceFile {
	out := make([]SourceFile, 0, len(files))
	for _, f := range files {
		if f.Matches(c) {
			out = append(out, f)
		}
	}
	return out
}

// Sort orders files by round, dosage form, care setting and layout.
func Sort(files []SourceFile) {
	slices.SortStableFunc(files, func(a, b SourceFile) int {
		return cmp.Or(
			cmp.Compare(a.Round, b.Round),
			cmp.Compare(a.DosageForm, b.DosageForm),
			cmp.Compare(a.CareSetting, b.CareSetting),
			cmp.Compare(a.Layout, b.Layout),
		)
	})
}

// roundWanted reports whether a round can satisfy the round and year filters.
func roundWanted(r core.Round, c core.ExtractionCriteria) bool {
	return (len(c.Rounds) == 0 || slices.Contains(c.Rounds, r)) &&
		(len(c.Years) == 0 || slices.Contains(c.Years, r.FiscalYear()))
}
