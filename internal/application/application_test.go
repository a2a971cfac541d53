package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	_ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts"
)

const geographicCSV = "薬効分類,薬効分類名称,医薬品コード,医薬品名,薬価基準収載医薬品コード,薬価,後発品区分,総計,01,02\n" +
	",,,,,,,,北海道,青森県\n" +
	"117,精神神経用剤,1124023F1037,ソラナックス0.4mg錠,1124023F1037,9.4,0,1500,-,1200\n"

func testConfig(dir string) *config.Config {
	return &config.Config{
		Source:  config.SourceConfig{Dir: dir, HTTPTimeout: time.Second, CSVEncoding: "utf-8"},
		Cache:   config.CacheConfig{Workbooks: 4},
		Extract: config.ExtractConfig{MaxConcurrentFiles: 2, MaxConcurrentRuns: 1},
	}
}

func TestNew_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "02_注射_入院_都道府県別.csv"), []byte(geographicCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	app, err := New(ctx, testConfig(dir), Options{Sink: true})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if app.Store != nil || app.S3 != nil {
		t.Error("optional parts should stay off without configuration")
	}
	if app.Mirror("") != nil {
		t.Error("Mirror without a destination should be nil")
	}
	if m := app.Mirror(t.TempDir()); m == nil || m.Store != nil {
		t.Errorf("Mirror(dir) = %+v", m)
	}

	n, err := app.Index.Refresh(ctx, app.Source)
	if err != nil || n != 1 {
		t.Fatalf("Refresh = %d, %v", n, err)
	}

	id, err := app.Service.Start(ctx, core.LayoutGeographic, core.ExtractionCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := app.Service.Wait(wctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 || len(res.Files) != 1 {
		t.Errorf("records = %d, files = %d", len(res.Records), len(res.Files))
	}
	if app.Supplier.Cached() != 1 {
		t.Errorf("cached workbooks = %d, want 1", app.Supplier.Cached())
	}

	rc := app.RefreshConfig()
	if rc.Index != app.Index || rc.Source == nil || rc.Purge == nil {
		t.Errorf("RefreshConfig = %+v", rc)
	}
}

func TestNew_RejectsUnknownEncoding(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Source.CSVEncoding = "latin1"
	if _, err := New(context.Background(), cfg, Options{}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
