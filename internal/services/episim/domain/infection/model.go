package infection

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/mobility"
)

const (
	secondsPerDay = 24 * 3600
	shardSize     = 64
)

// Protector reports the hazard multiplier a susceptible person carries
// against a strain, 1 meaning unprotected.
type Protector interface {
	Protection(p *person.Person, day int, st strain.Strain) float64
}

// Infection is a new infection decided for the day.
type Infection struct {
	Person int
	Strain string
	// Infector is the registry index of the largest contributor, -1 if unknown.
	Infector  int
	Container string
	Activity  string
	Hazard    float64
}

// ContactRecord is one side of a contact-log entry. Every pair yields two
// records, one per person.
type ContactRecord struct {
	Person   int
	Other    int
	End      float64
	Duration float64
}

// Result is the outcome of one day. Nothing in it has been applied yet.
type Result struct {
	Infections []Infection
	Contacts   []ContactRecord
	// Exposed counts susceptible persons with a positive hazard.
	Exposed int
}

// Model evaluates containers in parallel and reduces the hazards in a fixed
// order, so the outcome does not depend on the number of workers.
type Model struct {
	cfg       Config
	params    map[string]ActivityParams
	src       random.Source
	strains   *strain.Set
	protector Protector
}

// NewModel validates cfg. protector may be nil when nobody is vaccinated.
func NewModel(cfg Config, src random.Source, strains *strain.Set, protector Protector) (*Model, error) {
	if cfg.Mode == "" {
		cfg.Mode = HazardExponential
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strains == nil {
		s, err := strain.NewSet()
		if err != nil {
			return nil, err
		}
		strains = s
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	m := &Model{cfg: cfg, params: make(map[string]ActivityParams, len(cfg.Activities)), src: src, strains: strains, protector: protector}
	for _, a := range cfg.Activities {
		m.params[a.Name] = a
	}
	return m, nil
}

// Activities returns the configured activity type names in sorted order.
func (m *Model) Activities() []string {
	out := make([]string, 0, len(m.params))
	for name := range m.params {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Params returns the parameters of an activity type.
func (m *Model) Params(activity string) (ActivityParams, bool) {
	p, ok := m.params[activity]
	return p, ok
}

type visitor struct {
	idx         int
	enter, exit float64
	mask        restriction.MaskType
}

type strainHazard struct {
	name string
	h    float64
}

type exposure struct {
	person   int
	total    float64
	strains  []strainHazard
	infector int
	best     float64
	where    string
	activity string
}

func (e *exposure) add(name string, h float64) {
	e.total += h
	for i := range e.strains {
		if e.strains[i].name == name {
			e.strains[i].h += h
			return
		}
	}
	e.strains = append(e.strains, strainHazard{name: name, h: h})
}

type containerResult struct {
	exposures []*exposure
	contacts  []ContactRecord
}

// Compute evaluates one day of co-presence against the pre-day registry
// state. The registry is only read.
func (m *Model) Compute(ctx context.Context, in mobility.Day, restrictions map[string]restriction.Restriction, reg *person.Registry, day int) (Result, error) {
	seasonal := m.cfg.Seasonal.AtOr(in.Date, 1)
	results := make([]containerResult, len(in.Containers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for lo := 0; lo < len(in.Containers); lo += shardSize {
		hi := min(lo+shardSize, len(in.Containers))
		g.Go(func() error {
			for ci := lo; ci < hi; ci++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				c := in.Containers[ci]
				r, ok := restrictions[c.Activity]
				if !ok {
					r = restriction.None()
				}
				res, err := m.evaluate(c, r, reg, day, seasonal)
				if err != nil {
					return err
				}
				results[ci] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return m.reduce(results, reg, day), nil
}

func (m *Model) evaluate(c mobility.Container, r restriction.Restriction, reg *person.Registry, day int, seasonal float64) (containerResult, error) {
	params, ok := m.params[c.Activity]
	if !ok {
		return containerResult{}, apperrors.WithMetadata(apperrors.CodeUnknownActivity, "container has unknown activity type",
			map[string]string{"container": c.ID, "activity": c.Activity})
	}
	actKey := random.StringEntity(c.Activity)

	present := make([]visitor, 0, len(c.Visits))
	anyInfectious := false
	for _, v := range c.Visits {
		idx, ok := reg.Index(v.Person)
		if !ok {
			return containerResult{}, apperrors.WithMetadata(apperrors.CodeNotFound, "visit by unknown person",
				map[string]string{"container": c.ID, "person": v.Person})
		}
		p := reg.Get(idx)
		if v.Exit <= v.Enter || p.Status.Hospitalized() {
			continue
		}
		if p.Quarantine != person.QuarantineNo && !params.Home {
			continue
		}
		mask := restriction.MaskNone
		if len(r.Masks) > 0 {
			mask = restriction.Pick(r.Masks, m.src.Float64(day, p.Key()^actKey, random.TagMask))
		}
		present = append(present, visitor{idx: idx, enter: v.Enter, exit: v.Exit, mask: mask})
		anyInfectious = anyInfectious || p.Status.Infectious()
	}

	var res containerResult
	if m.cfg.TrackContacts {
		res.contacts = m.contacts(present, r, reg, day)
	}
	if !anyInfectious {
		return res, nil
	}

	base := 0.0
	if c.Spaces > 0 {
		base = m.cfg.Calibration * params.ContactIntensity * r.Ci() * seasonal / c.Spaces
	}

	byPerson := make(map[int]*exposure)
	for _, cv := range present {
		carrier := reg.Get(cv.idx)
		if !carrier.Status.Infectious() {
			continue
		}
		st := m.strains.MustGet(carrier.Strain)
		shed := cv.mask.Shedding()
		for _, sv := range present {
			if sv.idx == cv.idx {
				continue
			}
			lo := math.Max(cv.enter, sv.enter)
			hi := math.Min(cv.exit, sv.exit)
			overlap := r.ClosingHours.OpenDuration(lo, hi)
			if overlap <= 0 {
				continue
			}
			other := reg.Get(sv.idx)
			if other.Status != person.Susceptible || base == 0 {
				continue
			}
			h := base * st.Infectiousness * shed * sv.mask.Intake() * m.susceptibility(other, r, day, st) * overlap
			if !(h > 0) {
				continue
			}
			e, ok := byPerson[sv.idx]
			if !ok {
				e = &exposure{person: sv.idx, infector: -1}
				byPerson[sv.idx] = e
				res.exposures = append(res.exposures, e)
			}
			e.add(st.Name, h)
			if h > e.best {
				e.best = h
				e.infector = cv.idx
			}
		}
	}
	for _, e := range res.exposures {
		e.where = c.ID
		e.activity = c.Activity
	}
	return res, nil
}

// contacts logs both sides of every pair of trace-equipped visitors whose
// open-hours overlap reaches the minimum duration.
func (m *Model) contacts(present []visitor, r restriction.Restriction, reg *person.Registry, day int) []ContactRecord {
	var out []ContactRecord
	for i, a := range present {
		if !reg.Get(a.idx).TraceEquipped {
			continue
		}
		for _, b := range present[i+1:] {
			if b.idx == a.idx || !reg.Get(b.idx).TraceEquipped {
				continue
			}
			lo := math.Max(a.enter, b.enter)
			hi := math.Min(a.exit, b.exit)
			overlap := r.ClosingHours.OpenDuration(lo, hi)
			if overlap <= 0 || overlap < m.cfg.MinContactDuration {
				continue
			}
			end := float64(day)*secondsPerDay + hi
			out = append(out,
				ContactRecord{Person: a.idx, Other: b.idx, End: end, Duration: overlap},
				ContactRecord{Person: b.idx, Other: a.idx, End: end, Duration: overlap},
			)
		}
	}
	return out
}

// susceptibility is the protection and risk factor of a susceptible person
// against a strain.
func (m *Model) susceptibility(p *person.Person, r restriction.Restriction, day int, st strain.Strain) float64 {
	f := r.SusceptibleRiskFactor()
	if p.Vaccination != person.VaccinationNo {
		f = r.VaccinatedRiskFactor()
	}
	if m.protector != nil {
		f *= m.protector.Protection(p, day, st)
	}
	if p.EverInfected() {
		f *= 1 - m.cfg.ReinfectionProtection*(1-st.Escape)
	}
	return f
}

// reduce sums per-container exposures in container order and draws one
// uniform value per exposed person.
func (m *Model) reduce(results []containerResult, reg *person.Registry, day int) Result {
	var out Result
	total := make(map[int]*exposure)
	var order []int
	for _, res := range results {
		out.Contacts = append(out.Contacts, res.contacts...)
		for _, e := range res.exposures {
			acc, ok := total[e.person]
			if !ok {
				acc = &exposure{person: e.person, infector: -1}
				total[e.person] = acc
				order = append(order, e.person)
			}
			for _, sh := range e.strains {
				acc.add(sh.name, sh.h)
			}
			if e.best > acc.best {
				acc.best = e.best
				acc.infector = e.infector
				acc.where = e.where
				acc.activity = e.activity
			}
		}
	}
	sort.Ints(order)
	out.Exposed = len(order)

	for _, idx := range order {
		e := total[idx]
		p := reg.Get(idx)
		prob := Probability(m.cfg.Mode, e.total)
		if prob <= 0 || m.src.Float64(day, p.Key(), random.TagInfection) >= prob {
			continue
		}
		out.Infections = append(out.Infections, Infection{
			Person:    idx,
			Strain:    pickStrain(e.strains, m.src.Float64(day, p.Key(), random.TagStrain)),
			Infector:  e.infector,
			Container: e.where,
			Activity:  e.activity,
			Hazard:    e.total,
		})
	}
	return out
}

// pickStrain runs the hazard weighted lottery over strains in name order.
func pickStrain(strains []strainHazard, u float64) string {
	sorted := append([]strainHazard(nil), strains...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	total := 0.0
	for _, s := range sorted {
		total += s.h
	}
	u *= total
	acc := 0.0
	for _, s := range sorted {
		acc += s.h
		if u < acc {
			return s.name
		}
	}
	return sorted[len(sorted)-1].name
}
