package scenario

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/engine"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/infection"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/progression"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/seeding"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/vaccination"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/mobility"
)

// Components are the assembled parts of a run.
type Components struct {
	Start       time.Time
	Days        int
	Seed        int64
	Source      random.Source
	Registry    *person.Registry
	Strains     *strain.Set
	Policy      policy.Policy
	Infection   *infection.Model
	Progression *progression.Model
	Vaccination *vaccination.Model
	Tracing     *tracing.Model
	Seeding     *seeding.Handler
	Mobility    mobility.Source
	// ContactRetention is the configured contact log window, zero for the
	// engine default.
	ContactRetention int
}

// Build reads the scenario inputs and constructs every component. seed
// overrides the scenario seed when non-zero.
func (s *Scenario) Build(seed int64, logger *log.Logger) (*Components, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if seed == 0 {
		seed = s.Seed
	}
	start, err := calendar.Parse(s.Start)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, "start date", err)
	}
	c := &Components{Start: start, Days: s.Days, Seed: seed, Source: random.New(seed), ContactRetention: s.Infection.ContactRetention}

	c.Strains, err = strain.NewSet(s.Strains...)
	if err != nil {
		return nil, err
	}
	persons, err := readFile(s.Path(s.Population), ReadPopulation)
	if err != nil {
		return nil, err
	}
	c.Registry, err = person.NewRegistry(persons)
	if err != nil {
		return nil, err
	}
	days, err := readFile(s.Path(s.Mobility), mobility.ReadWeekdays)
	if err != nil {
		return nil, err
	}
	weekday := mobility.NewWeekday(c.Source, days)
	weekday.Districts = make(map[string]string, len(persons))
	for _, p := range persons {
		if p.District != "" {
			weekday.Districts[p.ID] = p.District
		}
	}
	c.Mobility = weekday

	if c.Policy, err = s.buildPolicy(start, c.Registry); err != nil {
		return nil, err
	}
	if s.Vaccination != nil {
		if c.Vaccination, err = s.buildVaccination(c.Source); err != nil {
			return nil, err
		}
	}
	if c.Infection, err = s.buildInfection(c); err != nil {
		return nil, err
	}
	if c.Progression, err = s.buildProgression(c.Source, c.Strains); err != nil {
		return nil, err
	}
	if s.Tracing != nil {
		if c.Tracing, err = s.buildTracing(c.Source); err != nil {
			return nil, err
		}
	}
	if c.Seeding, err = s.buildSeeding(c.Source, c.Strains, logger); err != nil {
		return nil, err
	}

	// Per-person flags are drawn once at load; checkpoints carry them after that.
	if c.Vaccination != nil {
		c.Vaccination.AssignCompliance(c.Registry)
	}
	if c.Tracing != nil {
		c.Tracing.AssignEquipment(c.Registry)
	}
	return c, nil
}

// Deps wires the components into engine dependencies.
func (c *Components) Deps(reports engine.Publisher, checkpoints checkpoint.Store) engine.Deps {
	return engine.Deps{
		Registry:    c.Registry,
		Policy:      c.Policy,
		Infection:   c.Infection,
		Progression: c.Progression,
		Vaccination: c.Vaccination,
		Tracing:     c.Tracing,
		Seeding:     c.Seeding,
		Reports:     reports,
		Checkpoints: checkpoints,
	}
}

// EngineConfig returns the engine configuration of a run.
func (c *Components) EngineConfig(runID string, checkpointEvery int, logger *log.Logger) engine.Config {
	return engine.Config{
		RunID:            runID,
		Seed:             c.Seed,
		Start:            c.Start,
		ContactRetention: c.ContactRetention,
		CheckpointEvery:  checkpointEvery,
		Logger:           logger,
	}
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.CodeInvalidConfig, "open input", err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.CodeInvalidConfig, path, err)
	}
	return v, nil
}

func (s *Scenario) activityNames() []string {
	names := make([]string, len(s.Infection.Activities))
	for i, a := range s.Infection.Activities {
		names[i] = a.Name
	}
	return names
}

func (s *Scenario) buildPolicy(start time.Time, reg *person.Registry) (policy.Policy, error) {
	b := policy.NewBuilder(s.activityNames()...)
	for _, r := range s.Restrictions {
		date, err := calendar.Parse(r.Date)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, "restriction date", err)
		}
		if r.Open {
			b.Open(date, r.Activities...)
			continue
		}
		b.Restrict(date, r.Restriction, r.Activities...)
	}
	if p := s.Participation; p != nil {
		if err := s.recordParticipation(b, p); err != nil {
			return nil, err
		}
	}
	if s.PolicyScript != "" {
		if err := LoadPolicyScript(s.Path(s.PolicyScript), b); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "policy script", err)
		}
	}
	fixed, err := b.Build()
	if err != nil {
		return nil, err
	}
	if s.Adaptive == nil {
		return fixed, nil
	}

	a := s.Adaptive
	cfg := policy.AdaptiveConfig{
		Scope:           a.Scope,
		StartDate:       start,
		RestrictAt:      a.RestrictAt,
		OpenAt:          a.OpenAt,
		ConsecutiveDays: a.ConsecutiveDays,
		Population:      reg.Len(),
		Restricted:      a.Restricted,
		Base:            fixed,
	}
	if a.Start != "" {
		if cfg.StartDate, err = calendar.Parse(a.Start); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, "adaptive start", err)
		}
	}
	if a.Scope == policy.ScopeDistrict {
		cfg.DistrictPopulation = make(map[string]int)
		for _, p := range reg.All() {
			if p.District != "" {
				cfg.DistrictPopulation[p.District]++
			}
		}
	}
	return policy.NewAdaptive(cfg)
}

func (s *Scenario) recordParticipation(b *policy.Builder, p *Participation) error {
	opts := policy.ParticipationOptions{Alpha: p.Alpha, Column: p.Column, Extrapolation: p.Extrapolation}
	for _, h := range p.Holidays {
		date, err := calendar.Parse(h)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidCalendar, "participation holiday", err)
		}
		opts.Holidays = append(opts.Holidays, date)
	}
	read := func(r io.Reader) ([]calendar.Entry[float64], error) { return policy.ReadParticipation(r, opts) }
	global, err := readFile(s.Path(p.File), read)
	if err != nil {
		return err
	}
	var districts map[string][]calendar.Entry[float64]
	if len(p.Districts) > 0 {
		districts = make(map[string][]calendar.Entry[float64], len(p.Districts))
		for district, file := range p.Districts {
			if districts[district], err = readFile(s.Path(file), read); err != nil {
				return err
			}
		}
	}
	activities := p.Activities
	if len(activities) == 0 {
		for _, a := range s.Infection.Activities {
			if !a.Home {
				activities = append(activities, a.Name)
			}
		}
	}
	return policy.FromParticipation(b, global, districts, opts, activities...)
}

// dated converts a date keyed map into a series.
func dated[T any](what string, values map[string]T) (*calendar.Series[T], error) {
	if len(values) == 0 {
		return nil, nil
	}
	series := &calendar.Series[T]{}
	for key, v := range values {
		date, err := calendar.Parse(key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, what, err)
		}
		series.Put(date, v)
	}
	return series, nil
}

func (s *Scenario) buildVaccination(src random.Source) (*vaccination.Model, error) {
	v := s.Vaccination
	cfg := vaccination.Config{Types: v.Types, MinAge: v.MinAge, Compliance: v.Compliance}
	var err error
	if cfg.Mix, err = dated("vaccine mix", v.Mix); err != nil {
		return nil, err
	}
	if cfg.Capacity, err = dated("vaccination capacity", v.Capacity); err != nil {
		return nil, err
	}
	if cfg.BoosterCapacity, err = dated("booster capacity", v.BoosterCapacity); err != nil {
		return nil, err
	}
	var allocator vaccination.Allocator
	if v.Allocation == "from_data" {
		counts, err := readFile(s.Path(v.Data), ReadVaccinationData)
		if err != nil {
			return nil, err
		}
		allocator = vaccination.FromData{Source: src, Groups: v.Groups, Counts: counts}
	}
	return vaccination.New(cfg, src, allocator)
}

func (s *Scenario) buildInfection(c *Components) (*infection.Model, error) {
	cfg := infection.Config{
		Activities:            s.Infection.Activities,
		Calibration:           s.Infection.Calibration,
		Mode:                  s.Infection.Mode,
		ReinfectionProtection: s.Infection.ReinfectionProtection,
		MinContactDuration:    s.Infection.MinContactDuration,
		TrackContacts:         s.Tracing != nil,
		Workers:               s.Infection.Workers,
	}
	var err error
	if cfg.Seasonal, err = dated("seasonal factor", s.Infection.Seasonal); err != nil {
		return nil, err
	}
	var protector infection.Protector
	if c.Vaccination != nil {
		protector = c.Vaccination
	}
	return infection.NewModel(cfg, c.Source, c.Strains, protector)
}

func (s *Scenario) buildProgression(src random.Source, strains *strain.Set) (*progression.Model, error) {
	p := s.Progression
	table := progression.DefaultTable()
	if len(p.Transitions) > 0 {
		transitions := make([]progression.Transition, 0, len(p.Transitions))
		for i, t := range p.Transitions {
			tr, err := t.transition()
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeInvalidTransition, fmt.Sprintf("transition %d", i), err)
			}
			transitions = append(transitions, tr)
		}
		var err error
		if table, err = progression.NewTable(transitions...); err != nil {
			return nil, err
		}
	}
	return progression.NewModel(table, src, strains, progression.Options{HospitalFactor: p.HospitalFactor, ICU: p.ICU})
}

func (t TransitionSpec) transition() (progression.Transition, error) {
	from, err := person.ParseDiseaseStatus(t.From)
	if err != nil {
		return progression.Transition{}, err
	}
	to, err := person.ParseDiseaseStatus(t.To)
	if err != nil {
		return progression.Transition{}, err
	}
	tr := progression.Transition{From: from, To: to}
	switch {
	case t.Rest:
		tr.Weight = progression.Rest()
	case len(t.ByAge) > 0:
		bands := make([]progression.AgeBand, len(t.ByAge))
		for i, b := range t.ByAge {
			bands[i] = progression.AgeBand{Below: b.Below, P: b.P}
		}
		tr.Weight = progression.ByAge(bands...)
	case t.Probability != nil:
		tr.Weight = progression.Const(*t.Probability)
	default:
		return tr, fmt.Errorf("%s -> %s has no weight", t.From, t.To)
	}
	d := t.Duration
	switch d.Kind {
	case progression.DistFixed, "":
		tr.Duration = progression.Fixed(d.Days)
	case progression.DistLogNormalMedian:
		tr.Duration = progression.LogNormalMedian(d.Median, d.Std)
	case progression.DistLogNormalMean:
		tr.Duration = progression.LogNormalMean(d.Mean, d.Std)
	default:
		return tr, fmt.Errorf("unknown duration kind %q", d.Kind)
	}
	return tr, nil
}

func (s *Scenario) buildTracing(src random.Source) (*tracing.Model, error) {
	t := s.Tracing
	cfg := tracing.DefaultConfig()
	cfg.EnableDay = t.EnableDay
	cfg.Delay = t.Delay
	cfg.MinDuration = t.MinDuration
	cfg.TraceOnPositiveTest = t.TraceOnPositiveTest
	if t.CapacityType != "" {
		cfg.CapacityType = t.CapacityType
	}
	if t.Lookback != nil {
		cfg.Lookback = *t.Lookback
	}
	if t.TraceSusceptible != nil {
		cfg.TraceSusceptible = *t.TraceSusceptible
	}
	if t.EquipmentRate != nil {
		cfg.EquipmentRate = *t.EquipmentRate
	}
	if t.QuarantineHousehold != nil {
		cfg.QuarantineHousehold = *t.QuarantineHousehold
	}
	if t.QuarantineIndexCase != nil {
		cfg.QuarantineIndexCase = *t.QuarantineIndexCase
	}
	if t.QuarantineDays != nil {
		cfg.QuarantineDays = *t.QuarantineDays
	}
	if t.TriggerStatus != "" {
		status, err := person.ParseDiseaseStatus(t.TriggerStatus)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "tracing trigger", err)
		}
		cfg.TriggerStatus = status
	}
	var err error
	if cfg.Probability, err = dated("tracing probability", t.Probability); err != nil {
		return nil, err
	}
	if cfg.Capacity, err = dated("tracing capacity", t.Capacity); err != nil {
		return nil, err
	}
	if len(t.QuarantineStatus) > 0 {
		statuses := make(map[string]person.QuarantineStatus, len(t.QuarantineStatus))
		for date, name := range t.QuarantineStatus {
			q, err := person.ParseQuarantineStatus(name)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "quarantine status", err)
			}
			statuses[date] = q
		}
		if cfg.QuarantineStatus, err = dated("quarantine status", statuses); err != nil {
			return nil, err
		}
	}
	if len(t.QuarantineDaysByStatus) > 0 {
		cfg.QuarantineDaysByStatus = make(map[person.DiseaseStatus]int, len(t.QuarantineDaysByStatus))
		for name, days := range t.QuarantineDaysByStatus {
			status, err := person.ParseDiseaseStatus(name)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "quarantine days", err)
			}
			cfg.QuarantineDaysByStatus[status] = days
		}
	}
	return tracing.NewModel(cfg, src)
}

// buildSeeding scales import counts to the sample, rounding up so that a
// scaled down population still receives imports.
func (s *Scenario) buildSeeding(src random.Source, strains *strain.Set, logger *log.Logger) (*seeding.Handler, error) {
	sd := s.Seeding
	cfg := seeding.Config{
		Initial:       sd.Initial,
		InitialStrain: sd.InitialStrain,
		MinAge:        sd.MinAge,
		MaxAge:        sd.MaxAge,
		Imports:       make(map[string]*calendar.Series[int]),
	}
	if len(cfg.Initial) == 0 && len(sd.Imports) == 0 && len(sd.ImportFiles) == 0 && len(sd.Interpolate) == 0 {
		cfg.Initial = map[string]int{"": 1}
	}
	for name, counts := range sd.Imports {
		scaled := make(map[string]int, len(counts))
		for date, n := range counts {
			scaled[date] = int(math.Ceil(float64(n) * s.SampleSize))
		}
		series, err := dated("imports "+name, scaled)
		if err != nil {
			return nil, err
		}
		cfg.Imports[name] = series
	}
	names := make([]string, 0, len(sd.ImportFiles))
	for name := range sd.ImportFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := sd.ImportFiles[name]
		factor := f.Factor
		if factor == 0 {
			factor = 1
		}
		read := func(r io.Reader) (*calendar.Series[int], error) { return seeding.ReadImports(r, factor*s.SampleSize) }
		series, err := readFile(s.Path(f.File), read)
		if err != nil {
			return nil, err
		}
		if existing := cfg.Imports[name]; existing != nil {
			for _, e := range series.Entries() {
				existing.Put(e.Date, e.Value)
			}
			continue
		}
		cfg.Imports[name] = series
	}
	for _, ip := range sd.Interpolate {
		startDate, err := calendar.Parse(ip.Start)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, "interpolate start", err)
		}
		endDate, err := calendar.Parse(ip.End)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCalendar, "interpolate end", err)
		}
		factor := ip.Factor
		if factor == 0 {
			factor = 1
		}
		series := cfg.Imports[ip.Strain]
		if series == nil {
			series = &calendar.Series[int]{}
			cfg.Imports[ip.Strain] = series
		}
		seeding.Interpolate(series, factor*s.SampleSize, startDate, endDate, ip.From, ip.To)
	}
	return seeding.NewHandler(cfg, src, strains, logger)
}
