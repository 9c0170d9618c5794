package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/otel"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/infection"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/seeding"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/vaccination"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/mobility"
)

const secondsPerDay = 24 * 3600

var (
	// ErrRegistryRequired indicates a missing person registry.
	ErrRegistryRequired = errors.New("person registry is required")
	// ErrModelRequired indicates a missing infection or progression model.
	ErrModelRequired = errors.New("infection and progression models are required")
	// ErrPolicyRequired indicates a missing restriction policy.
	ErrPolicyRequired = errors.New("restriction policy is required")
)

// Engine owns the day loop of one run.
type Engine struct {
	cfg    Config
	deps   Deps
	cal    calendar.Calendar
	tracer trace.Tracer
	logger *log.Logger

	day    int
	totals report.Totals
}

// New checks the dependencies and returns an engine positioned at day 0.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Registry == nil:
		return nil, ErrRegistryRequired
	case deps.Infection == nil || deps.Progression == nil:
		return nil, ErrModelRequired
	case deps.Policy == nil:
		return nil, ErrPolicyRequired
	}
	if cfg.ContactRetention <= 0 {
		cfg.ContactRetention = DefaultContactRetention
	}
	if deps.Tracing != nil && deps.Tracing.Lookback() > cfg.ContactRetention {
		cfg.ContactRetention = deps.Tracing.Lookback()
	}
	if cfg.CheckpointEvery < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "checkpoint interval must be non-negative")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := deps.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("validate registry: %w", err)
	}
	for act := range deps.Policy.RestrictionsFor(calendar.Normalize(cfg.Start)) {
		if _, ok := deps.Infection.Params(act); !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeUnknownActivity, "policy restricts an activity without infection parameters",
				map[string]string{"activity": act})
		}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		cal:    calendar.New(cfg.Start),
		tracer: otel.Tracer(),
		logger: logger,
	}, nil
}

// Day returns the index of the next day to run.
func (e *Engine) Day() int {
	return e.day
}

// Calendar returns the run calendar.
func (e *Engine) Calendar() calendar.Calendar {
	return e.cal
}

// Registry returns the person registry.
func (e *Engine) Registry() *person.Registry {
	return e.deps.Registry
}

// Totals returns the cumulative counts so far.
func (e *Engine) Totals() report.Totals {
	return e.totals
}

type transition struct {
	person int
	to     person.DiseaseStatus
}

// plans collects everything decided for one day before it is applied.
type plans struct {
	infection   infection.Result
	transitions []transition
	vaccination vaccination.Plan
	tracing     tracing.Plan
	imports     []seeding.Infection
}

// RunDay simulates the next day with the given co-presence data and returns
// its snapshot. The input date is replaced with the calendar date.
func (e *Engine) RunDay(ctx context.Context, in mobility.Day) (report.Snapshot, error) {
	day := e.day
	date := e.cal.Date(day)
	in.Date = date
	reg := e.deps.Registry

	ctx, span := e.tracer.Start(ctx, "episim.day", trace.WithAttributes(
		attribute.String("episim.run_id", e.cfg.RunID),
		attribute.Int("episim.day", day),
		attribute.String("episim.date", date.Format(calendar.DateLayout)),
	))
	defer span.End()

	var p plans

	_, phase := e.tracer.Start(ctx, "episim.policy")
	restrictions := e.deps.Policy.RestrictionsFor(date)
	phase.End()

	mobility.Normalize(&in)
	infCtx, phase := e.tracer.Start(ctx, "episim.infection")
	result, err := e.deps.Infection.Compute(infCtx, in, restrictions, reg, day)
	phase.SetAttributes(attribute.Int("episim.infections", len(result.Infections)))
	phase.End()
	if err != nil {
		span.RecordError(err)
		return report.Snapshot{}, fmt.Errorf("day %d infection: %w", day, err)
	}
	p.infection = result

	_, phase = e.tracer.Start(ctx, "episim.progression")
	for i, pp := range reg.All() {
		if next, ok := e.deps.Progression.Due(pp, day); ok {
			p.transitions = append(p.transitions, transition{person: i, to: next})
		}
	}
	phase.End()

	if e.deps.Vaccination != nil {
		_, phase = e.tracer.Start(ctx, "episim.vaccination")
		p.vaccination = e.deps.Vaccination.Plan(reg, day, date)
		phase.End()
	}

	if e.deps.Tracing != nil {
		_, phase = e.tracer.Start(ctx, "episim.tracing")
		p.tracing = e.trace(in, p.transitions, day)
		phase.End()
	}

	if e.deps.Seeding != nil {
		_, phase = e.tracer.Start(ctx, "episim.import")
		p.imports = e.deps.Seeding.Plan(day, date, reg)
		phase.End()
	}

	snap, err := e.apply(p, day)
	if err != nil {
		span.RecordError(err)
		return report.Snapshot{}, err
	}
	snap.RunID = e.cfg.RunID
	snap.Date = date

	if obs, ok := e.deps.Policy.(policy.Observer); ok {
		obs.Observe(date, snap.CasesByDistrict)
	}

	e.day++
	if e.deps.Reports != nil {
		if err := e.deps.Reports.Publish(snap); err != nil {
			e.logger.Printf("publish report day %d: %v", day, err)
		}
	}
	return snap, nil
}

// trace records today's triggers and returns the tracing plan. Triggers are
// onsets of the trigger status and, when enabled, positive tests.
func (e *Engine) trace(in mobility.Day, transitions []transition, day int) tracing.Plan {
	reg := e.deps.Registry
	date := e.cal.Date(day)
	tr := e.deps.Tracing

	var tests []tracing.TestResult
	for _, t := range in.Tests {
		idx, ok := reg.Index(t.Person)
		if !ok {
			e.logger.Printf("day %d: test result for unknown person %q ignored", day, t.Person)
			continue
		}
		tests = append(tests, tracing.TestResult{Person: idx, Positive: t.Positive})
	}

	seen := make(map[int]bool)
	var triggered []int
	for _, t := range transitions {
		if t.to == tr.TriggerStatus() && !seen[t.person] {
			seen[t.person] = true
			triggered = append(triggered, t.person)
		}
	}
	if tr.TraceOnPositiveTest() {
		for _, t := range tests {
			if t.Positive && !seen[t.Person] {
				seen[t.Person] = true
				triggered = append(triggered, t.Person)
			}
		}
	}
	sort.Ints(triggered)

	dropped := tr.Counters().Dropped
	for _, idx := range triggered {
		tr.Trigger(reg, idx, day, date)
	}
	plan := tr.Step(reg, day, date, triggered, tests)
	if n := tr.Counters().Dropped - dropped; n > 0 {
		e.logger.Printf("day %d: tracing capacity exhausted, %d contacts dropped", day, n)
	}
	return plan
}

// apply writes the day's plans into the registry in phase order and
// summarizes the result. It is the only place registry state changes
// during a run.
func (e *Engine) apply(p plans, day int) (report.Snapshot, error) {
	reg := e.deps.Registry
	prog := e.deps.Progression
	snap := report.Snapshot{
		Day:                   day,
		NewInfectionsByStrain: make(map[string]int),
		CasesByDistrict:       make(map[string]int),
	}

	infectedToday := make(map[int]bool, len(p.infection.Infections))
	for _, inf := range p.infection.Infections {
		if err := e.infect(inf.Person, inf.Strain, day); err != nil {
			return report.Snapshot{}, err
		}
		infectedToday[inf.Person] = true
		snap.NewInfections++
		snap.NewInfectionsByStrain[inf.Strain]++
	}
	for _, c := range p.infection.Contacts {
		reg.Get(c.Person).RecordContact(c.Other, c.End, c.Duration)
	}

	for _, t := range p.transitions {
		pp := reg.Get(t.person)
		if err := prog.Enter(pp, t.to, day); err != nil {
			return report.Snapshot{}, apperrors.Wrap(apperrors.CodeInvariantViolation, fmt.Sprintf("day %d progression", day), err)
		}
		if t.to == person.ShowingSymptoms {
			snap.NewCases++
			snap.CasesByDistrict[pp.District]++
		}
	}

	if e.deps.Vaccination != nil {
		e.deps.Vaccination.Apply(reg, p.vaccination, day)
		for _, d := range p.vaccination.Doses {
			if d.Booster {
				snap.Boosters++
			} else {
				snap.Doses++
			}
		}
	}

	if e.deps.Tracing != nil {
		tracing.Apply(reg, p.tracing, day)
		snap.Tracing = e.deps.Tracing.Counters()
	}

	for _, imp := range p.imports {
		if infectedToday[imp.Person] || reg.Get(imp.Person).Status != person.Susceptible {
			continue
		}
		if err := e.infect(imp.Person, imp.Strain, day); err != nil {
			return report.Snapshot{}, err
		}
		infectedToday[imp.Person] = true
		snap.Imported++
		snap.NewInfectionsByStrain[imp.Strain]++
	}

	since := float64(day+1-e.cfg.ContactRetention) * secondsPerDay
	for _, pp := range reg.All() {
		if len(pp.Contacts) > 0 {
			pp.PruneContacts(since)
		}
	}

	e.totals.Infections += snap.NewInfections + snap.Imported
	e.totals.Imported += snap.Imported
	e.totals.Doses += snap.Doses
	e.totals.Boosters += snap.Boosters
	snap.Totals = e.totals
	snap.Count(reg)
	return snap, nil
}

func (e *Engine) infect(idx int, strainName string, day int) error {
	p := e.deps.Registry.Get(idx)
	if p.Status != person.Susceptible {
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, "infection of a non-susceptible person",
			map[string]string{"person": p.ID, "status": p.Status.String(), "day": fmt.Sprint(day)})
	}
	p.Strain = strainName
	p.InfectionCount++
	p.InfectionDay = day
	return e.deps.Progression.Enter(p, person.InfectedButNotContagious, day)
}
