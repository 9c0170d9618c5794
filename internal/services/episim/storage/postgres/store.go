// Package postgres stores runs and daily snapshots in Postgres for analysis
// across runs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/storage/migrate"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage/postgres/migrations"
)

// Store is a Postgres backed storage.RunStore and storage.SnapshotStore.
type Store struct {
	Pool *pgxpool.Pool
}

var (
	_ storage.RunStore      = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Connect opens a pool for url, checks it and applies migrations.
func Connect(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	_, err = migrate.Up(ctx, sqlDB, migrate.Postgres, migrations.FS, "")
	_ = sqlDB.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// PutRun inserts or replaces a run record.
func (s *Store) PutRun(ctx context.Context, run storage.RunRecord) error {
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return checkpoint.ErrRunIDRequired
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	_, err := s.Pool.Exec(ctx, `
        INSERT INTO runs (id, scenario, seed, days, status, error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            scenario = EXCLUDED.scenario,
            seed = EXCLUDED.seed,
            days = EXCLUDED.days,
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            updated_at = EXCLUDED.updated_at
    `, run.ID, run.Scenario, run.Seed, run.Days, string(run.Status), run.Error, run.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (storage.RunRecord, error) {
	row := s.Pool.QueryRow(ctx, `
        SELECT id, scenario, seed, days, status, error, created_at, updated_at
        FROM runs WHERE id = $1
    `, strings.TrimSpace(id))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.RunRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.Pool.Query(ctx, `
        SELECT id, scenario, seed, days, status, error, created_at, updated_at
        FROM runs
        ORDER BY created_at DESC, id DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (storage.RunRecord, error) {
	var (
		run    storage.RunRecord
		status string
	)
	err := row.Scan(&run.ID, &run.Scenario, &run.Seed, &run.Days, &status, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	run.Status = storage.RunStatus(status)
	return run, err
}

// Write implements report.Sink.
func (s *Store) Write(ctx context.Context, snap report.Snapshot) error {
	if strings.TrimSpace(snap.RunID) == "" {
		return checkpoint.ErrRunIDRequired
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
        INSERT INTO snapshots (run_id, day, date, new_infections, new_cases, imported, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id, day) DO UPDATE SET
            date = EXCLUDED.date,
            new_infections = EXCLUDED.new_infections,
            new_cases = EXCLUDED.new_cases,
            imported = EXCLUDED.imported,
            payload = EXCLUDED.payload
    `, snap.RunID, snap.Day, snap.Date, snap.NewInfections, snap.NewCases, snap.Imported, payload)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the snapshots of a run in day order.
func (s *Store) ListSnapshots(ctx context.Context, runID string) ([]report.Snapshot, error) {
	rows, err := s.Pool.Query(ctx, `SELECT payload FROM snapshots WHERE run_id = $1 ORDER BY day`, strings.TrimSpace(runID))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []report.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap report.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
