// Package storage defines the persistence contracts for runs and their
// daily reports.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
)

// ErrNotFound indicates a missing run.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RunRecord describes one simulation run.
type RunRecord struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Seed      int64     `json:"seed"`
	Days      int       `json:"days"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStore persists run records.
type RunStore interface {
	PutRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// SnapshotStore persists daily snapshots. Writing a day twice replaces it,
// so resumed runs can republish without duplicates.
type SnapshotStore interface {
	report.Sink
	ListSnapshots(ctx context.Context, runID string) ([]report.Snapshot, error)
}
