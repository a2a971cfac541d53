package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	_ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts"
	"github.com/JonMunkholm/ndbmedicine/internal/workbook"
)

const demographicCSV = "薬効分類,薬効分類名称,医薬品コード,医薬品名,単位,薬価基準収載医薬品コード,薬価,後発品区分,総計,男性,女性\n" +
	",,,,,,,,,0～4歳,0～4歳\n" +
	"117,精神神経用剤,1124023F1037,ソラナックス0.4mg錠,錠,1124023F1037,9.4,0,2400,1200,-\n"

var inpatientCSV = catalog.SourceFile{
	Round:       4,
	DosageForm:  core.DosageOral,
	CareSetting: core.CareInpatient,
	Layout:      core.LayoutDemographic,
	Location:    "mem://04.csv",
}

type countingFetcher struct {
	opens atomic.Int32
	data  []byte
	err   error
}

func (c *countingFetcher) Open(context.Context, catalog.SourceFile) (io.ReadCloser, error) {
	c.opens.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return io.NopCloser(bytes.NewReader(c.data)), nil
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.xlsx":
			if r.Header.Get("User-Agent") != "ndb-test" {
				t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
			}
			_, _ = w.Write([]byte("workbook bytes"))
		case "/big.xlsx":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := &HTTPFetcher{Client: srv.Client(), UserAgent: "ndb-test", MaxBytes: 32}

	t.Run("ok", func(t *testing.T) {
		data, err := readAll(context.Background(), h, catalog.SourceFile{Location: srv.URL + "/ok.xlsx"})
		if err != nil {
			t.Fatalf("readAll() error = %v", err)
		}
		if string(data) != "workbook bytes" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := h.Open(context.Background(), catalog.SourceFile{Location: srv.URL + "/missing.xlsx"})
		if !errors.Is(err, core.ErrRetrieval) {
			t.Errorf("error = %v, want ErrRetrieval", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, err := readAll(context.Background(), h, catalog.SourceFile{Location: srv.URL + "/big.xlsx"})
		if !errors.Is(err, core.ErrRetrieval) || !errors.Is(err, ErrTooLarge) {
			t.Errorf("error = %v, want ErrRetrieval wrapping ErrTooLarge", err)
		}
	})
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	f := catalog.SourceFile{Round: 3, DosageForm: core.DosageTopical, CareSetting: core.CareInpatient, Layout: core.LayoutGeographic}
	if err := os.WriteFile(filepath.Join(dir, f.FileName()), []byte("by name"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		location string
		wantErr  bool
	}{
		{"empty location uses file name", "", false},
		{"relative location", f.FileName(), false},
		{"absolute location", filepath.Join(dir, f.FileName()), false},
		{"missing", "nope.xlsx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := f
			file.Location = tt.location
			data, err := readAll(context.Background(), FileFetcher{Dir: dir}, file)
			if tt.wantErr {
				if !errors.Is(err, core.ErrRetrieval) {
					t.Errorf("error = %v, want ErrRetrieval", err)
				}
				return
			}
			if err != nil || string(data) != "by name" {
				t.Errorf("readAll() = %q, %v", data, err)
			}
		})
	}
}

func TestRouter(t *testing.T) {
	httpF, s3F, fileF := &countingFetcher{}, &countingFetcher{}, &countingFetcher{}
	r := Router{HTTP: httpF, S3: s3F, File: fileF}

	for _, loc := range []string{"https://www.mhlw.go.jp/a.xlsx", "HTTP://x/b.xlsx", "s3://bucket/c.xlsx", "/data/d.xlsx"} {
		rc, err := r.Open(context.Background(), catalog.SourceFile{Location: loc})
		if err != nil {
			t.Fatalf("Open(%q) error = %v", loc, err)
		}
		rc.Close()
	}
	if httpF.opens.Load() != 2 || s3F.opens.Load() != 1 || fileF.opens.Load() != 1 {
		t.Errorf("opens http=%d s3=%d file=%d", httpF.opens.Load(), s3F.opens.Load(), fileF.opens.Load())
	}

	_, err := Router{}.Open(context.Background(), catalog.SourceFile{Location: "s3://b/k"})
	if !errors.Is(err, core.ErrRetrieval) {
		t.Errorf("error = %v, want ErrRetrieval", err)
	}
}

func TestSupplier_CachesParsedSheets(t *testing.T) {
	fetcher := &countingFetcher{data: []byte(demographicCSV)}
	s, err := NewSupplier(fetcher, 4, workbook.EncodingAuto)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sheets, err := s.Sheets(context.Background(), inpatientCSV)
			if err != nil {
				t.Errorf("Sheets() error = %v", err)
				return
			}
			if len(sheets) != 1 || sheets[0].CareSetting != core.CareInpatient {
				t.Errorf("sheets = %+v", sheets)
			}
		}()
	}
	wg.Wait()

	if n := fetcher.opens.Load(); n < 1 || n > 8 {
		t.Fatalf("opens = %d", n)
	}
	before := fetcher.opens.Load()
	if _, err := s.Sheets(context.Background(), inpatientCSV); err != nil {
		t.Fatal(err)
	}
	if fetcher.opens.Load() != before {
		t.Error("cached workbook fetched again")
	}
	if s.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", s.Cached())
	}

	s.Purge()
	if _, err := s.Sheets(context.Background(), inpatientCSV); err != nil {
		t.Fatal(err)
	}
	if fetcher.opens.Load() != before+1 {
		t.Error("purged workbook not fetched again")
	}
}

// gatedFetcher blocks every Open until release is closed.
type gatedFetcher struct {
	opens   atomic.Int32
	started chan struct{}
	release chan struct{}
	data    []byte
}

func (g *gatedFetcher) Open(context.Context, catalog.SourceFile) (io.ReadCloser, error) {
	if g.opens.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	return io.NopCloser(bytes.NewReader(g.data)), nil
}

func TestSupplier_CancelledCallerDoesNotFailOthers(t *testing.T) {
	fetcher := &gatedFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		data:    []byte(demographicCSV),
	}
	s, err := NewSupplier(fetcher, 4, workbook.EncodingAuto)
	if err != nil {
		t.Fatal(err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Sheets(ctxA, inpatientCSV)
		errA <- err
	}()
	<-fetcher.started

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) || !errors.Is(err, core.ErrRetrieval) {
		t.Fatalf("cancelled caller error = %v, want retrieval error wrapping context.Canceled", err)
	}

	// The shared load is still in flight; a second caller joins it.
	type result struct {
		sheets []workbook.Sheet
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		sheets, err := s.Sheets(context.Background(), inpatientCSV)
		resB <- result{sheets, err}
	}()
	close(fetcher.release)

	r := <-resB
	if r.err != nil {
		t.Fatalf("second caller error = %v", r.err)
	}
	if len(r.sheets) != 1 {
		t.Errorf("sheets = %+v", r.sheets)
	}
	if n := fetcher.opens.Load(); n > 2 {
		t.Errorf("opens = %d", n)
	}
	if s.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", s.Cached())
	}
}

func TestSupplier_Errors(t *testing.T) {
	t.Run("retrieval", func(t *testing.T) {
		s, _ := NewSupplier(&countingFetcher{err: &core.RetrievalError{Location: "x", Err: errors.New("offline")}}, 0, workbook.EncodingAuto)
		_, err := s.Sheets(context.Background(), inpatientCSV)
		if !errors.Is(err, core.ErrRetrieval) {
			t.Errorf("error = %v, want ErrRetrieval", err)
		}
	})

	t.Run("unreadable workbook", func(t *testing.T) {
		s, _ := NewSupplier(&countingFetcher{data: []byte("not a zip")}, 0, workbook.EncodingAuto)
		f := inpatientCSV
		f.Location = "mem://04.xlsx"
		_, err := s.Sheets(context.Background(), f)
		if !errors.Is(err, core.ErrStructuralMismatch) {
			t.Errorf("error = %v, want ErrStructuralMismatch", err)
		}
	})
}

func TestMirror_SaveToDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved")
	m := &Mirror{Fetcher: &countingFetcher{data: []byte(demographicCSV)}, Dir: dir}

	files := []catalog.SourceFile{inpatientCSV, {
		Round: 1, DosageForm: core.DosageInjectable, Layout: core.LayoutGeographic, Location: "https://x/1.xlsx",
	}}
	saved, err := m.SaveAll(context.Background(), files, 2)
	if err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if len(saved) != 2 || saved[1].Name != "01_注射__都道府県別.xlsx" {
		t.Fatalf("saved = %+v", saved)
	}

	got, err := catalog.DirCatalog{Dir: dir}.Resolve(context.Background(), core.ExtractionCriteria{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("saved directory lists %d files, want 2", len(got))
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".download-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	if _, err := (&Mirror{Fetcher: m.Fetcher}).Save(context.Background(), inpatientCSV); err == nil {
		t.Error("Save() without destination expected error")
	}
}

func TestObjectKeys(t *testing.T) {
	if got := objectKey("prescription", "/04_内服_入院_性年齢別.xlsx"); got != "prescription/04_内服_入院_性年齢別.xlsx" {
		t.Errorf("objectKey() = %q", got)
	}
	if got := objectKey("", "a.xlsx"); got != "a.xlsx" {
		t.Errorf("objectKey() = %q", got)
	}

	tests := []struct {
		loc    string
		key    string
		wantOK bool
	}{
		{"s3://ndb/prescription/a.xlsx", "prescription/a.xlsx", true},
		{"s3://other/a.xlsx", "", false},
		{"s3://ndb/", "", false},
		{"https://ndb/a.xlsx", "", false},
	}
	for _, tt := range tests {
		key, ok := parseS3Location(tt.loc, "ndb")
		if key != tt.key || ok != tt.wantOK {
			t.Errorf("parseS3Location(%q) = %q, %v", tt.loc, key, ok)
		}
	}
}
