package extract

// scheduler.go keeps the in-memory catalog current.
//
// Each cycle re-reads the catalog from its source, drops cached workbooks
// so that republished files are fetched again, and prunes stored runs past
// their retention. A failed cycle is logged and the previous listing stays
// in use.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
)

// RefreshConfig configures the refresh scheduler.
type RefreshConfig struct {
	Index    *catalog.Index
	Source   catalog.Catalog
	Interval time.Duration

	// Purge drops cached workbooks after a successful refresh. Optional.
	Purge func()

	// HistoryRetention prunes stored runs older than this; 0 keeps them.
	HistoryRetention time.Duration
}

// StartRefreshScheduler refreshes immediately and then every Interval until
// ctx is cancelled. It blocks; run it in its own goroutine.
func (s *Service) StartRefreshScheduler(ctx context.Context, cfg RefreshConfig) {
	slog.Info("catalog refresh scheduler started",
		"interval", cfg.Interval.String(),
		"history_retention", cfg.HistoryRetention.String(),
	)

	s.runRefreshJob(ctx, cfg)
	if cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("catalog refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runRefreshJob(ctx, cfg)
		}
	}
}

// runRefreshJob performs one refresh and prune cycle.
func (s *Service) runRefreshJob(ctx context.Context, cfg RefreshConfig) {
	start := time.Now()

	if cfg.Index != nil && cfg.Source != nil {
		if _, err := cfg.Index.Refresh(ctx, cfg.Source); err != nil {
			slog.Error("catalog refresh failed", "error", err)
		} else if cfg.Purge != nil {
			cfg.Purge()
		}
	}

	if s.sink != nil && cfg.HistoryRetention > 0 {
		pruned, err := s.sink.Prune(ctx, time.Now().Add(-cfg.HistoryRetention))
		if err != nil {
			slog.Error("history prune failed", "error", err)
		} else {
			slog.Info("pruned stored runs", "runs_pruned", pruned)
		}
	}

	slog.Info("refresh job completed", "duration_ms", time.Since(start).Milliseconds())
}
