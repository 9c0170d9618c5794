package engine

import (
	"log"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/infection"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/progression"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/seeding"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/vaccination"
)

// DefaultContactRetention is how many days of contacts persons keep when
// tracing does not need more.
const DefaultContactRetention = 14

// Config holds the run identity. It is fixed for the lifetime of an Engine.
type Config struct {
	RunID string
	Seed  int64
	// Start is the date of day 0.
	Start time.Time
	// ContactRetention is the contact log window in days.
	ContactRetention int
	// CheckpointEvery saves a checkpoint after every n-th day during Run.
	// Zero saves only when Run stops.
	CheckpointEvery int
	Logger          *log.Logger
}

// Publisher receives the daily snapshots. report.Dispatcher implements it.
type Publisher interface {
	Publish(s report.Snapshot) error
}

// Deps are the components of a run. Vaccination, Tracing, Seeding, Reports
// and Checkpoints are optional.
type Deps struct {
	Registry    *person.Registry
	Policy      policy.Policy
	Infection   *infection.Model
	Progression *progression.Model
	Vaccination *vaccination.Model
	Tracing     *tracing.Model
	Seeding     *seeding.Handler
	Reports     Publisher
	Checkpoints checkpoint.Store
}
