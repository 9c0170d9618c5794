// Package progression advances infected persons through the disease state
// machine.
//
// Transitions are declared in a Table: for every source status a list of
// successor statuses with a weight and a duration distribution. When a person
// enters a status, one draw picks the successor and an independent draw picks
// the delay, so both are fixed at entry and never re-evaluated.
package progression

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

// allowedEdges is the disease state machine. Susceptible is left by
// infection, never by progression.
var allowedEdges = map[person.DiseaseStatus][]person.DiseaseStatus{
	person.InfectedButNotContagious:   {person.Contagious},
	person.Contagious:                 {person.ShowingSymptoms, person.Recovered},
	person.ShowingSymptoms:            {person.SeriouslySick, person.Recovered},
	person.SeriouslySick:              {person.Critical, person.Recovered},
	person.Critical:                   {person.SeriouslySickAfterCritical},
	person.SeriouslySickAfterCritical: {person.Recovered},
	person.Recovered:                  {person.Susceptible},
}

// Allowed reports whether from -> to is an edge of the state machine,
// including the infection edge susceptible -> infectedButNotContagious.
func Allowed(from, to person.DiseaseStatus) bool {
	if from == person.Susceptible {
		return to == person.InfectedButNotContagious
	}
	for _, s := range allowedEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WeightKind selects how a transition weight is computed.
type WeightKind string

const (
	WeightConst WeightKind = "const"
	WeightAge   WeightKind = "age"
	WeightRest  WeightKind = "rest"
)

// AgeBand is a probability for ages below Below. A band with Below == 0
// covers every remaining age and must come last.
type AgeBand struct {
	Below int
	P     float64
}

// Weight is the probability of a transition before scaling.
type Weight struct {
	Kind  WeightKind
	Value float64
	Bands []AgeBand
}

// Const is an age independent probability.
func Const(p float64) Weight { return Weight{Kind: WeightConst, Value: p} }

// ByAge is an age banded probability.
func ByAge(bands ...AgeBand) Weight { return Weight{Kind: WeightAge, Bands: bands} }

// Rest takes the probability left over by its siblings.
func Rest() Weight { return Weight{Kind: WeightRest} }

func (w Weight) at(age int) float64 {
	switch w.Kind {
	case WeightConst:
		return w.Value
	case WeightAge:
		for _, b := range w.Bands {
			if b.Below == 0 || age < b.Below {
				return b.P
			}
		}
	}
	return 0
}

func (w Weight) validate() error {
	inUnit := func(p float64) bool { return p >= 0 && p <= 1 && !math.IsNaN(p) }
	switch w.Kind {
	case WeightRest:
		return nil
	case WeightConst:
		if !inUnit(w.Value) {
			return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "transition probability must be in [0,1]",
				map[string]string{"value": fmt.Sprint(w.Value)})
		}
		return nil
	case WeightAge:
		if len(w.Bands) == 0 || w.Bands[len(w.Bands)-1].Below != 0 {
			return apperrors.New(apperrors.CodeInvalidConfig, "age bands must end with an open band")
		}
		prev := -1
		for i, b := range w.Bands {
			if !inUnit(b.P) {
				return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "age band probability must be in [0,1]",
					map[string]string{"below": fmt.Sprint(b.Below), "value": fmt.Sprint(b.P)})
			}
			if i < len(w.Bands)-1 && b.Below <= prev {
				return apperrors.New(apperrors.CodeInvalidConfig, "age bands must be increasing")
			}
			prev = b.Below
		}
		return nil
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown weight kind", map[string]string{"kind": string(w.Kind)})
	}
}

// Transition is one successor option of a source status.
type Transition struct {
	From     person.DiseaseStatus
	To       person.DiseaseStatus
	Weight   Weight
	Duration Distribution
}

// Table is a validated, immutable transition table.
type Table struct {
	from map[person.DiseaseStatus][]Transition
}

// NewTable validates transitions against the state machine. Every status
// other than susceptible needs at least one successor, and a source may have
// at most one Rest transition.
func NewTable(transitions ...Transition) (*Table, error) {
	t := &Table{from: make(map[person.DiseaseStatus][]Transition)}
	for _, tr := range transitions {
		meta := map[string]string{"from": tr.From.String(), "to": tr.To.String()}
		if tr.From == person.Susceptible || !Allowed(tr.From, tr.To) {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition, "transition is not an edge of the disease model", meta)
		}
		for _, existing := range t.from[tr.From] {
			if existing.To == tr.To {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition, "duplicate transition", meta)
			}
		}
		if err := tr.Weight.validate(); err != nil {
			return nil, fmt.Errorf("transition %s -> %s: %w", tr.From, tr.To, err)
		}
		if err := tr.Duration.validate(); err != nil {
			return nil, fmt.Errorf("transition %s -> %s: %w", tr.From, tr.To, err)
		}
		t.from[tr.From] = append(t.from[tr.From], tr)
	}
	for from := range allowedEdges {
		list := t.from[from]
		if len(list) == 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition, "status has no successor", map[string]string{"from": from.String()})
		}
		rest := 0
		for _, tr := range list {
			if tr.Weight.Kind == WeightRest {
				rest++
			}
		}
		if rest > 1 {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition, "more than one rest transition", map[string]string{"from": from.String()})
		}
		// successors are kept in state machine order so the lottery does not
		// depend on declaration order
		sort.SliceStable(list, func(i, j int) bool { return list[i].To < list[j].To })
	}
	return t, nil
}

// From returns the successors of a status.
func (t *Table) From(s person.DiseaseStatus) []Transition {
	return append([]Transition(nil), t.from[s]...)
}

// Age banded defaults for severe progression.
var (
	SeriouslySickByAge = []AgeBand{
		{10, 0.001}, {20, 0.003}, {30, 0.012}, {40, 0.032}, {50, 0.049},
		{60, 0.102}, {70, 0.166}, {80, 0.243}, {0, 0.273},
	}
	CriticalByAge = []AgeBand{
		{40, 0.05}, {50, 0.063}, {60, 0.122}, {70, 0.274}, {80, 0.432}, {0, 0.709},
	}
)

// DefaultTable returns the reference disease model with age dependent
// severity and waning immunity after about half a year.
func DefaultTable() *Table {
	t, err := NewTable(
		Transition{person.InfectedButNotContagious, person.Contagious, Const(1), Fixed(4)},
		Transition{person.Contagious, person.ShowingSymptoms, Const(0.8), Fixed(2)},
		Transition{person.Contagious, person.Recovered, Rest(), Fixed(12)},
		Transition{person.ShowingSymptoms, person.SeriouslySick, ByAge(SeriouslySickByAge...), Fixed(4)},
		Transition{person.ShowingSymptoms, person.Recovered, Rest(), Fixed(10)},
		Transition{person.SeriouslySick, person.Critical, ByAge(CriticalByAge...), Fixed(1)},
		Transition{person.SeriouslySick, person.Recovered, Rest(), Fixed(14)},
		Transition{person.Critical, person.SeriouslySickAfterCritical, Const(1), Fixed(10)},
		Transition{person.SeriouslySickAfterCritical, person.Recovered, Const(1), Fixed(7)},
		Transition{person.Recovered, person.Susceptible, Const(1), LogNormalMean(180, 30)},
	)
	if err != nil {
		panic(err)
	}
	return t
}
