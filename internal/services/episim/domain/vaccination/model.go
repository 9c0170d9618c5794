package vaccination

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

// AgeShare is a value for ages below Below; Below == 0 closes the list.
type AgeShare struct {
	Below int     `yaml:"below"`
	Share float64 `yaml:"share"`
}

// Config parameterizes vaccination.
type Config struct {
	Types []Type
	// Mix is the share of each vaccine type administered from a date on.
	Mix *calendar.Series[map[string]float64]
	// Capacity is the number of primary doses per day from a date on. When
	// nil, an allocator that implements Demander sets the day's doses.
	Capacity *calendar.Series[int]
	// BoosterCapacity is the number of booster doses per day from a date on.
	BoosterCapacity *calendar.Series[int]
	// MinAge excludes younger persons from vaccination.
	MinAge int
	// Compliance is the share of each age band willing to be vaccinated.
	Compliance []AgeShare
}

// Dose is one vaccination to apply at the end of the day.
type Dose struct {
	Person  int
	Type    string
	Booster bool
}

// Plan is the vaccination outcome of one day.
type Plan struct {
	Doses []Dose
	// Matured lists persons whose partial protection becomes full today.
	Matured []int
}

// Model plans vaccinations and answers protection queries.
type Model struct {
	cfg       Config
	src       random.Source
	types     map[string]Type
	typeNames []string
	allocator Allocator
}

// New validates cfg. A nil allocator means age priority.
func New(cfg Config, src random.Source, allocator Allocator) (*Model, error) {
	if len(cfg.Types) == 0 {
		cfg.Types = []Type{DefaultType()}
	}
	m := &Model{cfg: cfg, src: src, types: make(map[string]Type, len(cfg.Types)), allocator: allocator}
	for _, t := range cfg.Types {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := m.types[t.Name]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "duplicate vaccine type", map[string]string{"vaccine": t.Name})
		}
		m.types[t.Name] = t
		m.typeNames = append(m.typeNames, t.Name)
	}
	sort.Strings(m.typeNames)
	if cfg.MinAge < 0 || cfg.MinAge > MaxAge {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "minimum vaccination age out of range", map[string]string{"min_age": fmt.Sprint(cfg.MinAge)})
	}
	for _, series := range []*calendar.Series[int]{cfg.Capacity, cfg.BoosterCapacity} {
		for _, e := range series.Entries() {
			if e.Value < 0 {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidCapacity, "vaccination capacity must be non-negative",
					map[string]string{"date": e.Date.Format(calendar.DateLayout)})
			}
		}
	}
	for _, e := range cfg.Mix.Entries() {
		total := 0.0
		for name, share := range e.Value {
			if _, ok := m.types[name]; !ok {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "vaccine mix names unknown type",
					map[string]string{"vaccine": name, "date": e.Date.Format(calendar.DateLayout)})
			}
			if share < 0 {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidProbability, "vaccine mix share must be non-negative",
					map[string]string{"vaccine": name})
			}
			total += share
		}
		if total <= 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidProbability, "vaccine mix is empty",
				map[string]string{"date": e.Date.Format(calendar.DateLayout)})
		}
	}
	if err := validateShares(cfg.Compliance); err != nil {
		return nil, err
	}
	if fd, ok := allocator.(FromData); ok {
		if err := validateGroups(fd.Groups); err != nil {
			return nil, err
		}
	}
	if m.allocator == nil {
		m.allocator = ByAge{Source: src, MinAge: cfg.MinAge}
	}
	return m, nil
}

func validateShares(shares []AgeShare) error {
	if len(shares) == 0 {
		return nil
	}
	if shares[len(shares)-1].Below != 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "compliance bands must end with an open band")
	}
	for _, s := range shares {
		if s.Share < 0 || s.Share > 1 || math.IsNaN(s.Share) {
			return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "compliance must be in [0,1]",
				map[string]string{"below": fmt.Sprint(s.Below)})
		}
	}
	return nil
}

func validateGroups(groups []AgeGroup) error {
	sorted := append([]AgeGroup(nil), groups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	for i, g := range sorted {
		if g.Name == "" || g.Min > g.Max {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "invalid age group", map[string]string{"group": g.Name})
		}
		if i > 0 && g.Min <= sorted[i-1].Max {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "age groups overlap",
				map[string]string{"group": g.Name, "previous": sorted[i-1].Name})
		}
	}
	return nil
}

// Eligible reports whether p may receive a primary dose (booster false) or a
// booster (booster true) on day.
func (m *Model) Eligible(p *person.Person, day int, booster bool) bool {
	if !p.Vaccinable || p.Status != person.Susceptible || p.Age < m.cfg.MinAge {
		return false
	}
	if !booster {
		return p.Vaccination == person.VaccinationNo
	}
	if p.Vaccination != person.VaccinationFull || p.Boosted {
		return false
	}
	t, ok := m.types[p.VaccineType]
	if !ok {
		return false
	}
	return day-p.VaccinationDay >= t.BoostWaitDays
}

// Plan computes today's doses from the pre-day state. It does not modify
// the registry; the engine applies the plan with Apply.
func (m *Model) Plan(reg *person.Registry, day int, date time.Time) Plan {
	var plan Plan
	var primary, boost []int
	for i, p := range reg.All() {
		if p.Vaccination == person.VaccinationPartial {
			if t, ok := m.types[p.VaccineType]; ok && day-p.VaccinationDay >= t.DaysUntilFull {
				plan.Matured = append(plan.Matured, i)
			}
		}
		if m.Eligible(p, day, false) {
			primary = append(primary, i)
		} else if m.Eligible(p, day, true) {
			boost = append(boost, i)
		}
	}

	available := m.cfg.Capacity.AtOr(date, 0)
	if d, ok := m.allocator.(Demander); ok && m.cfg.Capacity == nil {
		available = d.Demand(date)
	}
	for _, i := range m.allocator.Allocate(reg, primary, available, day, date) {
		plan.Doses = append(plan.Doses, Dose{Person: i, Type: m.pickType(reg.Get(i), day, date)})
	}
	boosters := ByAge{Source: m.src, MinAge: m.cfg.MinAge}.Allocate(reg, boost, m.cfg.BoosterCapacity.AtOr(date, 0), day, date)
	for _, i := range boosters {
		plan.Doses = append(plan.Doses, Dose{Person: i, Type: reg.Get(i).VaccineType, Booster: true})
	}
	return plan
}

func (m *Model) pickType(p *person.Person, day int, date time.Time) string {
	mix, ok := m.cfg.Mix.At(date)
	if !ok || len(mix) == 0 {
		return m.typeNames[0]
	}
	total := 0.0
	for _, name := range m.typeNames {
		total += mix[name]
	}
	u := m.src.Float64(day, p.Key(), random.TagVaccineType) * total
	acc := 0.0
	for _, name := range m.typeNames {
		acc += mix[name]
		if mix[name] > 0 && u < acc {
			return name
		}
	}
	for i := len(m.typeNames) - 1; i >= 0; i-- {
		if mix[m.typeNames[i]] > 0 {
			return m.typeNames[i]
		}
	}
	return m.typeNames[0]
}

// Apply writes a plan into the registry.
func (m *Model) Apply(reg *person.Registry, plan Plan, day int) {
	for _, i := range plan.Matured {
		reg.Get(i).Vaccination = person.VaccinationFull
	}
	for _, d := range plan.Doses {
		p := reg.Get(d.Person)
		if d.Booster {
			p.Boosted = true
			p.BoosterDay = day
			continue
		}
		p.VaccineType = d.Type
		p.VaccinationDay = day
		p.Vaccination = person.VaccinationPartial
		if t := m.types[d.Type]; t.DaysUntilFull == 0 {
			p.Vaccination = person.VaccinationFull
		}
	}
}

// AssignCompliance sets the vaccinable flag of every person from the age
// banded compliance shares. The draw depends only on the person, so the
// assignment is stable across runs with the same seed.
func (m *Model) AssignCompliance(reg *person.Registry) {
	if len(m.cfg.Compliance) == 0 {
		return
	}
	for _, p := range reg.All() {
		share := 0.0
		for _, s := range m.cfg.Compliance {
			if s.Below == 0 || p.Age < s.Below {
				share = s.Share
				break
			}
		}
		p.Vaccinable = m.src.Bernoulli(0, p.Key(), random.TagCompliance, share)
	}
}
