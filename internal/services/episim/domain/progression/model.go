package progression

import (
	"math"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
)

// Logistic is a generalised logistic curve
// A + (K-A) / (C + Q e^{-B(t-M)})^{1/V}.
type Logistic struct {
	A float64 `yaml:"a"`
	K float64 `yaml:"k"`
	C float64 `yaml:"c"`
	Q float64 `yaml:"q"`
	B float64 `yaml:"b"`
	V float64 `yaml:"v"`
	M float64 `yaml:"m"`
}

// DefaultICU is the ICU load factor curve: it starts near 1 and settles at
// 0.35 as intensive care capacity saturates around day 40.
func DefaultICU() Logistic {
	return Logistic{A: 1, K: 0.35, C: 1, Q: 1, B: 0.15, V: 0.9, M: 40}
}

// At evaluates the curve at t.
func (l Logistic) At(t float64) float64 {
	return l.A + (l.K-l.A)/math.Pow(l.C+l.Q*math.Exp(-l.B*(t-l.M)), 1/l.V)
}

// Options are the system load scalers of a Model.
type Options struct {
	// HospitalFactor scales showingSymptoms -> seriouslySick. Zero means 1.
	HospitalFactor float64
	// ICU, when set, scales seriouslySick -> critical by ICU.At(day).
	ICU *Logistic
}

// Model plans and applies disease transitions.
type Model struct {
	table   *Table
	src     random.Source
	strains *strain.Set
	opts    Options
}

// NewModel returns a model over a validated table.
func NewModel(table *Table, src random.Source, strains *strain.Set, opts Options) (*Model, error) {
	if table == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "transition table is required")
	}
	if strains == nil {
		s, err := strain.NewSet()
		if err != nil {
			return nil, err
		}
		strains = s
	}
	if opts.HospitalFactor == 0 {
		opts.HospitalFactor = 1
	}
	if opts.HospitalFactor < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "hospital factor must be positive")
	}
	return &Model{table: table, src: src, strains: strains, opts: opts}, nil
}

// Due returns the status p moves to on day, if its scheduled transition
// fires today. It does not modify p.
func (m *Model) Due(p *person.Person, day int) (person.DiseaseStatus, bool) {
	if p.Status == person.Susceptible || p.NextTransition == person.NoDay || p.NextTransition > day {
		return p.Status, false
	}
	return p.NextStatus, true
}

// Enter moves p into status on day along a state machine edge and plans the
// following transition. Edges outside the disease model are rejected.
func (m *Model) Enter(p *person.Person, status person.DiseaseStatus, day int) error {
	if !Allowed(p.Status, status) {
		return apperrors.WithMetadata(apperrors.CodeInvalidTransition, "transition is not an edge of the disease model",
			map[string]string{"person": p.ID, "from": p.Status.String(), "to": status.String()})
	}
	m.Place(p, status, day)
	return nil
}

// Place puts p into status on day without checking the edge, for scenario
// setup such as seeding already contagious persons.
func (m *Model) Place(p *person.Person, status person.DiseaseStatus, day int) {
	p.Status = status
	p.StatusDay = day
	next, at, ok := m.plan(p, status, day)
	if !ok {
		p.NextStatus = status
		p.NextTransition = person.NoDay
		return
	}
	p.NextStatus = next
	p.NextTransition = at
}

// plan picks the successor and delay for p entering status on day. The
// branch and the duration use separate draws addressed by the entry day, so
// neither depends on the number of successors.
func (m *Model) plan(p *person.Person, status person.DiseaseStatus, day int) (person.DiseaseStatus, int, bool) {
	options := m.table.from[status]
	if len(options) == 0 {
		return status, 0, false
	}
	weights := make([]float64, len(options))
	restAt := -1
	sum := 0.0
	for i, tr := range options {
		if tr.Weight.Kind == WeightRest {
			restAt = i
			continue
		}
		w := tr.Weight.at(p.Age) * m.scale(p, tr, day)
		w = math.Max(0, math.Min(1, w))
		weights[i] = w
		sum += w
	}
	if restAt >= 0 {
		weights[restAt] = math.Max(0, 1-sum)
		sum += weights[restAt]
	}

	chosen := options[len(options)-1]
	if sum > 0 {
		u := m.src.Float64(day, p.Key(), random.TagBranch) * sum
		acc := 0.0
		for i, tr := range options {
			acc += weights[i]
			if u < acc {
				chosen = tr
				break
			}
		}
	}
	delay := chosen.Duration.Draw(m.src.Rand(day, p.Key(), random.TagDuration))
	return chosen.To, day + delay, true
}

func (m *Model) scale(p *person.Person, tr Transition, day int) float64 {
	switch {
	case tr.From == person.ShowingSymptoms && tr.To == person.SeriouslySick:
		st := m.strains.MustGet(p.Strain)
		f := st.FactorSeriouslySick
		if p.Vaccination != person.VaccinationNo {
			f = st.FactorSeriouslySickVaccinated
		}
		return f * m.opts.HospitalFactor
	case tr.From == person.SeriouslySick && tr.To == person.Critical:
		f := m.strains.MustGet(p.Strain).FactorCritical
		if m.opts.ICU != nil {
			f *= m.opts.ICU.At(float64(day))
		}
		return f
	}
	return 1
}
