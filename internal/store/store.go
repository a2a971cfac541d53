// Package store keeps extraction runs and their records in PostgreSQL.
//
// Records are written with COPY inside the transaction that creates the run,
// so a run is either stored with all of its records or not at all.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/config"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var Schema string

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// DefaultBatchSize is the number of records per COPY when none is configured.
const DefaultBatchSize = 5000

// Run is one stored extraction.
type Run struct {
	ID         uuid.UUID           `json:"id"`
	Layout     core.LayoutKind     `json:"-"`
	Criteria   map[string][]string `json:"criteria"`
	Files      int                 `json:"files"`
	Skipped    int                 `json:"skipped"`
	Records    int                 `json:"records"`
	DurationMs int                 `json:"duration_ms"`
	StartedAt  time.Time           `json:"started_at"`
}

// Store is the PostgreSQL record sink.
type Store struct {
	pool      *pgxpool.Pool
	batchSize int
}

// New wraps a pool. batchSize <= 0 uses DefaultBatchSize.
func New(pool *pgxpool.Pool, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{pool: pool, batchSize: batchSize}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var recordColumns = []string{
	"run_id", "ordinal", "layout", "round", "fiscal_year", "dosage_form", "care_setting",
	"class_code", "class_name", "drug_code", "drug_name", "unit", "price_list_code",
	"price", "generic_flag", "sex", "age", "category_code", "category_label",
	"quantity", "below_threshold",
}

// SaveRun stores a run and its records. Records keep their order.
func (s *Store) SaveRun(ctx context.Context, run Run, records []core.CanonicalRecord) error {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	criteria := run.Criteria
	if criteria == nil {
		criteria = map[string][]string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO extraction_runs (id, layout, criteria, files, skipped, records, duration_ms, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		toPgUUID(run.ID), run.Layout.String(), criteria, run.Files, run.Skipped,
		len(records), run.DurationMs, toPgTimestamptz(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	id := toPgUUID(run.ID)
	rows := make([][]any, 0, min(len(records), s.batchSize))
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"prescription_records"}, recordColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy records: %w", err)
		}
		rows = rows[:0]
		return nil
	}
	for i, r := range records {
		rows = append(rows, recordRow(id, i, r))
		if len(rows) == s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	slog.Info("run saved", "run_id", run.ID, "records", len(records),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func recordRow(id pgtype.UUID, ordinal int, r core.CanonicalRecord) []any {
	return []any{
		id, ordinal, r.Layout.String(), int(r.Round), r.Year, r.DosageForm.String(), r.CareSetting.String(),
		r.ClassCode, r.ClassName, r.DrugCode, r.DrugName, toPgTextPtr(r.Unit), r.PriceListCode,
		r.Price, r.GenericFlag, r.Sex, r.Age, r.Code, r.Label,
		r.Quantity, r.BelowThreshold,
	}
}

// Run returns one stored run.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, layout, criteria, files, skipped, records, duration_ms, started_at
		 FROM extraction_runs WHERE id = $1`, toPgUUID(id))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// History returns the most recent runs first.
func (s *Store) History(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, layout, criteria, files, skipped, records, duration_ms, started_at
		 FROM extraction_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var (
		run       Run
		id        pgtype.UUID
		layout    string
		startedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &layout, &run.Criteria, &run.Files, &run.Skipped,
		&run.Records, &run.DurationMs, &startedAt); err != nil {
		return Run{}, err
	}
	kind, err := core.ParseLayoutKind(layout)
	if err != nil {
		return Run{}, fmt.Errorf("stored run layout: %w", err)
	}
	run.ID = uuid.UUID(id.Bytes)
	run.Layout = kind
	run.StartedAt = startedAt.Time
	return run, nil
}

// Records returns the records of a run in their original order.
func (s *Store) Records(ctx context.Context, id uuid.UUID) ([]core.CanonicalRecord, error) {
	if _, err := s.Run(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT layout, round, fiscal_year, dosage_form, care_setting,
		        class_code, class_name, drug_code, drug_name, unit, price_list_code,
		        price, generic_flag, sex, age, category_code, category_label,
		        quantity, below_threshold
		 FROM prescription_records WHERE run_id = $1 ORDER BY ordinal`, toPgUUID(id))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []core.CanonicalRecord
	for rows.Next() {
		var (
			r                    core.CanonicalRecord
			layout, dosage, care string
			round                int
			unit                 pgtype.Text
		)
		if err := rows.Scan(&layout, &round, &r.Year, &dosage, &care,
			&r.ClassCode, &r.ClassName, &r.DrugCode, &r.DrugName, &unit, &r.PriceListCode,
			&r.Price, &r.GenericFlag, &r.Sex, &r.Age, &r.Code, &r.Label,
			&r.Quantity, &r.BelowThreshold); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Layout, err = core.ParseLayoutKind(layout); err != nil {
			return nil, err
		}
		if r.DosageForm, err = core.ParseDosageForm(dosage); err != nil {
			return nil, err
		}
		if r.CareSetting, err = core.ParseCareSetting(care); err != nil {
			return nil, err
		}
		r.Round = core.Round(round)
		r.Unit = fromPgText(unit)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_runs WHERE started_at < $1`, toPgTimestamptz(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
