package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	_ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts"
	"github.com/JonMunkholm/ndbmedicine/internal/workbook"
)

const geographicCSV = "薬効分類,薬効分類名称,医薬品コード,医薬品名,薬価基準収載医薬品コード,薬価,後発品区分,総計,01,02\n" +
	",,,,,,,,北海道,青森県\n" +
	"117,精神神経用剤,1124023F1037,ソラナックス0.4mg錠,1124023F1037,9.4,0,1500,-,1200\n"

var (
	inpatientFile = catalog.SourceFile{Round: 2, DosageForm: core.DosageInjectable, CareSetting: core.CareInpatient,
		Layout: core.LayoutGeographic, Location: "mem://a.csv"}
	bundledFile = catalog.SourceFile{Round: 2, DosageForm: core.DosageOral,
		Layout: core.LayoutGeographic, Location: "mem://b.xlsx"}
	mismatchedFile = catalog.SourceFile{Round: 3, DosageForm: core.DosageOral, CareSetting: core.CareInpatient,
		Layout: core.LayoutGeographic, Location: "mem://c.csv"}
	demographicFile = catalog.SourceFile{Round: 2, DosageForm: core.DosageOral, CareSetting: core.CareInpatient,
		Layout: core.LayoutDemographic, Location: "mem://d.csv"}
)

type fakeSheets struct {
	sheets map[string][]workbook.Sheet
	errs   map[string]error
	block  bool
	calls  atomic.Int32
}

func (f *fakeSheets) Sheets(ctx context.Context, file catalog.SourceFile) ([]workbook.Sheet, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, &core.RetrievalError{Location: file.Location, Err: ctx.Err()}
	}
	if err := f.errs[file.Location]; err != nil {
		return nil, err
	}
	return f.sheets[file.Location], nil
}

func csvSheet(t *testing.T, care core.CareSetting) workbook.Sheet {
	t.Helper()
	sheets, err := workbook.ReadCSV(strings.NewReader(geographicCSV), "sheet.csv", workbook.EncodingUTF8)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	sheets[0].CareSetting = care
	return sheets[0]
}

func newFixture(t *testing.T) (*Extractor, *fakeSheets) {
	t.Helper()
	src := &fakeSheets{
		sheets: map[string][]workbook.Sheet{
			inpatientFile.Location: {csvSheet(t, core.CareSettingUnknown)},
			bundledFile.Location: {
				csvSheet(t, core.CareOutpatientExternal),
				csvSheet(t, core.CareInpatient),
			},
			mismatchedFile.Location: {csvSheet(t, core.CareSettingUnknown)},
		},
	}
	// The index sorts by round and dosage form, so bundledFile comes first.
	ix := catalog.NewIndex(inpatientFile, bundledFile, mismatchedFile, demographicFile)
	return &Extractor{Catalog: ix, Sheets: src, Parallel: 2}, src
}

func TestExtractor_Run(t *testing.T) {
	tests := []struct {
		name        string
		criteria    core.ExtractionCriteria
		wantRecords int
		wantFiles   []catalog.SourceFile
		wantSkipped int
	}{
		{
			name:        "all files",
			wantRecords: 6,
			wantFiles:   []catalog.SourceFile{bundledFile, inpatientFile},
			wantSkipped: 1,
		},
		{
			name:        "care filter reaches into bundled workbooks",
			criteria:    core.ExtractionCriteria{CareSettings: []core.CareSetting{core.CareInpatient}},
			wantRecords: 4,
			wantFiles:   []catalog.SourceFile{bundledFile, inpatientFile},
			wantSkipped: 1,
		},
		{
			name:        "totals",
			criteria:    core.ExtractionCriteria{Rounds: []core.Round{2}, DosageForms: []core.DosageForm{core.DosageInjectable}, IncludeTotal: true},
			wantRecords: 3,
			wantFiles:   []catalog.SourceFile{inpatientFile},
		},
		{
			name:     "no match",
			criteria: core.ExtractionCriteria{Years: []int{2020}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, _ := newFixture(t)
			res, err := ex.Run(context.Background(), core.LayoutGeographic, tt.criteria)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(res.Records) != tt.wantRecords {
				t.Errorf("got %d records, want %d", len(res.Records), tt.wantRecords)
			}
			if len(res.Files) != len(tt.wantFiles) {
				t.Fatalf("files = %v, want %v", res.Files, tt.wantFiles)
			}
			for i := range tt.wantFiles {
				if res.Files[i] != tt.wantFiles[i] {
					t.Errorf("files[%d] = %v, want %v", i, res.Files[i], tt.wantFiles[i])
				}
			}
			if len(res.Skipped) != tt.wantSkipped {
				t.Errorf("skipped = %+v", res.Skipped)
			}
			for _, r := range res.Records {
				if r.Layout != core.LayoutGeographic || !r.CareSetting.Valid() || r.Year != 2015 {
					t.Errorf("bad record %+v", r)
				}
			}
		})
	}
}

func TestExtractor_RecordOrderAndIdentity(t *testing.T) {
	ex, _ := newFixture(t)
	res, err := ex.Run(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{Rounds: []core.Round{2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		dosage core.DosageForm
		care   core.CareSetting
		code   string
	}{
		{core.DosageOral, core.CareOutpatientExternal, "01"},
		{core.DosageOral, core.CareOutpatientExternal, "02"},
		{core.DosageOral, core.CareInpatient, "01"},
		{core.DosageOral, core.CareInpatient, "02"},
		{core.DosageInjectable, core.CareInpatient, "01"},
		{core.DosageInjectable, core.CareInpatient, "02"},
	}
	if len(res.Records) != len(want) {
		t.Fatalf("got %d records", len(res.Records))
	}
	for i, w := range want {
		r := res.Records[i]
		if r.DosageForm != w.dosage || r.CareSetting != w.care || r.Code != w.code {
			t.Errorf("record %d = %s/%s/%s, want %s/%s/%s", i, r.DosageForm, r.CareSetting, r.Code, w.dosage, w.care, w.code)
		}
	}
	if !res.Records[0].BelowThreshold || res.Records[1].Quantity != 1200 {
		t.Errorf("quantities = %+v, %+v", res.Records[0], res.Records[1])
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped = %+v, want the round 3 file", res.Skipped)
	}
	if res.Skipped[0].Code != "SCH001" || res.Skipped[0].Name != mismatchedFile.FileName() {
		t.Errorf("skipped = %+v", res.Skipped[0])
	}
}

func TestExtractor_Errors(t *testing.T) {
	t.Run("validation before selection", func(t *testing.T) {
		ex, src := newFixture(t)
		_, err := ex.Run(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{Rounds: []core.Round{0}})
		if !errors.Is(err, core.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
		if src.calls.Load() != 0 {
			t.Error("files fetched despite invalid criteria")
		}
	})

	t.Run("unsupported layout", func(t *testing.T) {
		ex, _ := newFixture(t)
		_, err := ex.Run(context.Background(), core.LayoutKind(9), core.ExtractionCriteria{})
		if !errors.Is(err, core.ErrUnsupportedLayout) {
			t.Errorf("error = %v, want ErrUnsupportedLayout", err)
		}
	})

	t.Run("retrieval aborts", func(t *testing.T) {
		ex, src := newFixture(t)
		src.errs = map[string]error{bundledFile.Location: &core.RetrievalError{Location: bundledFile.Location, Err: errors.New("503")}}
		_, err := ex.Run(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{})
		if !errors.Is(err, core.ErrRetrieval) {
			t.Errorf("error = %v, want ErrRetrieval", err)
		}
	})

	t.Run("unreadable workbook is skipped", func(t *testing.T) {
		ex, src := newFixture(t)
		src.errs = map[string]error{inpatientFile.Location: core.Mismatch("a.xlsx", -1, -1, "open workbook: zip: not a valid zip file")}
		res, err := ex.Run(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(res.Skipped) != 2 || len(res.Files) != 1 {
			t.Errorf("files = %v, skipped = %+v", res.Files, res.Skipped)
		}
	})

	t.Run("sheet without care setting", func(t *testing.T) {
		ex, src := newFixture(t)
		src.sheets[bundledFile.Location] = []workbook.Sheet{csvSheet(t, core.CareSettingUnknown)}
		res, err := ex.Run(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(res.Skipped) != 2 {
			t.Errorf("skipped = %+v", res.Skipped)
		}
	})
}

func TestExtractor_Hooks(t *testing.T) {
	ex, _ := newFixture(t)

	var (
		mu       sync.Mutex
		resolved int
		done     int
		skipped  int
		records  int
	)
	_, err := ex.RunWithHooks(context.Background(), core.LayoutGeographic, core.ExtractionCriteria{}, Hooks{
		Resolved: func(files []catalog.SourceFile) { resolved = len(files) },
		FileDone: func(_ catalog.SourceFile, n int, skip error) {
			mu.Lock()
			defer mu.Unlock()
			done++
			records += n
			if skip != nil {
				skipped++
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved != 3 || done != 3 || skipped != 1 || records != 6 {
		t.Errorf("resolved=%d done=%d skipped=%d records=%d", resolved, done, skipped, records)
	}
}
