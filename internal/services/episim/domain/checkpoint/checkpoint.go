// Package checkpoint stores the state needed to resume a run at a day
// boundary.
package checkpoint

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
)

var (
	// ErrRunIDRequired indicates a missing run id.
	ErrRunIDRequired = errors.New("run id is required")
	// ErrNotFound indicates no checkpoint exists for the run.
	ErrNotFound = errors.New("checkpoint not found")
)

// Checkpoint is the engine state after day Day-1. Resuming runs Day next.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Seed      int64           `json:"seed"`
	Day       int             `json:"day"`
	Persons   []person.Person `json:"persons"`
	Tracing   tracing.State   `json:"tracing"`
	Policy    []byte          `json:"policy,omitempty"`
	Totals    report.Totals   `json:"totals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists checkpoints keyed by run id.
type Store interface {
	Get(ctx context.Context, runID string) (Checkpoint, error)
	Save(ctx context.Context, c Checkpoint) error
}

// Clone returns a deep copy.
func (c Checkpoint) Clone() Checkpoint {
	persons := make([]person.Person, len(c.Persons))
	for i, p := range c.Persons {
		p.Contacts = slices.Clone(p.Contacts)
		persons[i] = p
	}
	c.Persons = persons
	c.Tracing.Queue = slices.Clone(c.Tracing.Queue)
	c.Policy = slices.Clone(c.Policy)
	return c
}
