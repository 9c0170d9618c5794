// Package sqlite stores runs, checkpoints and daily snapshots in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/storage/migrate"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage/sqlite/migrations"
)

// Store provides SQLite-backed run persistence. It implements
// checkpoint.Store, storage.RunStore and storage.SnapshotStore.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ checkpoint.Store      = (*Store)(nil)
	_ storage.RunStore      = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Open opens a SQLite store and applies migrations. The path ":memory:"
// opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := migrate.Up(ctx, sqlDB, migrate.SQLite, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutRun inserts or replaces a run record.
func (s *Store) PutRun(ctx context.Context, run storage.RunRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return checkpoint.ErrRunIDRequired
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (id, scenario, seed, days, status, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	scenario = excluded.scenario,
	seed = excluded.seed,
	days = excluded.days,
	status = excluded.status,
	error = excluded.error,
	updated_at = excluded.updated_at
`,
		run.ID,
		run.Scenario,
		run.Seed,
		run.Days,
		string(run.Status),
		run.Error,
		run.CreatedAt.UnixMilli(),
		run.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	return nil
}

// GetRun returns a run record by id.
func (s *Store) GetRun(ctx context.Context, id string) (storage.RunRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.RunRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, scenario, seed, days, status, error, created_at, updated_at
FROM runs WHERE id = ?
`, strings.TrimSpace(id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RunRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, scenario, seed, days, status, error, created_at, updated_at
FROM runs
ORDER BY created_at DESC, id DESC
LIMIT ?
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (storage.RunRecord, error) {
	var (
		run                  storage.RunRecord
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&run.ID, &run.Scenario, &run.Seed, &run.Days, &status, &run.Error, &createdAt, &updatedAt); err != nil {
		return storage.RunRecord{}, err
	}
	run.Status = storage.RunStatus(status)
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return run, nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, runID string) (checkpoint.Checkpoint, error) {
	if err := s.ready(ctx); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return checkpoint.Checkpoint{}, checkpoint.ErrRunIDRequired
	}
	var payload []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	var c checkpoint.Checkpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return c, nil
}

// Save implements checkpoint.Store. A later save replaces the previous one.
func (s *Store) Save(ctx context.Context, c checkpoint.Checkpoint) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		return checkpoint.ErrRunIDRequired
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO checkpoints (run_id, seed, day, payload, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	seed = excluded.seed,
	day = excluded.day,
	payload = excluded.payload,
	updated_at = excluded.updated_at
`, c.RunID, c.Seed, c.Day, payload, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Write implements report.Sink.
func (s *Store) Write(ctx context.Context, snap report.Snapshot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(snap.RunID) == "" {
		return checkpoint.ErrRunIDRequired
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (run_id, day, date, new_infections, new_cases, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, day) DO UPDATE SET
	date = excluded.date,
	new_infections = excluded.new_infections,
	new_cases = excluded.new_cases,
	payload = excluded.payload
`, snap.RunID, snap.Day, snap.Date.Format(calendar.DateLayout), snap.NewInfections, snap.NewCases, payload)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the snapshots of a run in day order.
func (s *Store) ListSnapshots(ctx context.Context, runID string) ([]report.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT payload FROM snapshots WHERE run_id = ? ORDER BY day`, strings.TrimSpace(runID))
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
