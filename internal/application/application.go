// Package application assembles the extractor from configuration: the
// catalog, the fetchers and workbook cache, the optional S3 mirror and
// PostgreSQL sink, and the extraction service on top of them.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/extract"
	"github.com/JonMunkholm/ndbmedicine/internal/source"
	"github.com/JonMunkholm/ndbmedicine/internal/store"
	"github.com/JonMunkholm/ndbmedicine/internal/workbook"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options select the optional parts.
type Options struct {
	// Sink connects to the database when one is configured.
	Sink bool
}

// App holds the assembled components.
type App struct {
	Config *config.Config

	// Source is the upstream catalog; Index is the in-memory copy that runs
	// resolve against.
	Source catalog.Catalog
	Index  *catalog.Index

	Fetcher  source.Fetcher
	Supplier *source.Supplier
	S3       *source.S3Store
	Store    *store.Store
	Service  *extract.Service

	pool *pgxpool.Pool
}

// New builds an App. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Index: catalog.NewIndex()}

	httpFetcher := source.NewHTTPFetcher(cfg.Source.HTTPTimeout, cfg.Source.UserAgent)
	router := source.Router{
		HTTP: httpFetcher,
		File: source.FileFetcher{Dir: cfg.Source.Dir},
	}

	if cfg.Storage.Enabled() {
		s3, err := source.NewS3Store(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("s3 mirror: %w", err)
		}
		a.S3 = s3
		router.S3 = s3
		router.HTTP = source.MirrorFirst{Store: s3, Origin: httpFetcher}
		slog.Info("s3 mirror enabled", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	}
	a.Fetcher = router

	if cfg.Source.Dir != "" {
		a.Source = catalog.DirCatalog{Dir: cfg.Source.Dir}
		slog.Info("using local source directory", "dir", cfg.Source.Dir)
	} else {
		client := &http.Client{Timeout: cfg.Source.HTTPTimeout}
		a.Source = catalog.NewWebCatalog(cfg.Source.TopURL, client, cfg.Source.UserAgent, cfg.Source.RequestInterval)
	}

	enc, err := workbook.ParseEncoding(cfg.Source.CSVEncoding)
	if err != nil {
		return nil, fmt.Errorf("NDB_CSV_ENCODING: %w", err)
	}
	supplier, err := source.NewSupplier(a.Fetcher, cfg.Cache.Workbooks, enc)
	if err != nil {
		return nil, fmt.Errorf("workbook cache: %w", err)
	}
	a.Supplier = supplier

	var sink extract.Sink
	if opts.Sink && cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Store = store.New(pool, cfg.Extract.BatchSize)
		if err := a.Store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		sink = a.Store
	}

	ex := &extract.Extractor{
		Catalog:  a.Index,
		Sheets:   a.Supplier,
		Parallel: cfg.Extract.MaxConcurrentFiles,
	}
	a.Service = extract.NewService(ex, sink, extract.Options{
		Timeout:           cfg.Extract.Timeout,
		Retention:         cfg.Extract.Retention,
		MaxConcurrentRuns: cfg.Extract.MaxConcurrentRuns,
		MaxWait:           cfg.Extract.MaxWaitTime,
	})
	return a, nil
}

// Mirror returns a mirror writing to dir and, when configured, to S3. It
// returns nil when there is no destination.
func (a *App) Mirror(dir string) *source.Mirror {
	if dir == "" && a.S3 == nil {
		return nil
	}
	return &source.Mirror{Fetcher: a.Fetcher, Dir: dir, Store: a.S3}
}

// RefreshConfig is the scheduler configuration for this App.
func (a *App) RefreshConfig() extract.RefreshConfig {
	return extract.RefreshConfig{
		Index:            a.Index,
		Source:           a.Source,
		Interval:         a.Config.Refresh.Interval,
		Purge:            a.Supplier.Purge,
		HistoryRetention: a.Config.Refresh.HistoryRetention,
	}
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
