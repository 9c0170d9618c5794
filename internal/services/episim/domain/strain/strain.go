// Package strain defines virus variants and their multipliers.
package strain

import (
	"sort"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
)

// Wildtype is the name of the strain used when a scenario defines none.
const Wildtype = "wildtype"

// Strain is a virus variant. All factors are relative to the base disease
// model, so the zero-factor wildtype is expressed as all ones.
type Strain struct {
	Name string `yaml:"name" json:"name"`
	// Infectiousness scales the transmission hazard of carriers.
	Infectiousness float64 `yaml:"infectiousness" json:"infectiousness"`
	// FactorSeriouslySick scales the probability of showingSymptoms -> seriouslySick.
	FactorSeriouslySick float64 `yaml:"factor_seriously_sick" json:"factor_seriously_sick"`
	// FactorSeriouslySickVaccinated replaces FactorSeriouslySick for vaccinated persons.
	FactorSeriouslySickVaccinated float64 `yaml:"factor_seriously_sick_vaccinated" json:"factor_seriously_sick_vaccinated"`
	// FactorCritical scales the probability of seriouslySick -> critical.
	FactorCritical float64 `yaml:"factor_critical" json:"factor_critical"`
	// Escape is the share of vaccine or infection acquired protection the
	// strain neutralizes, in [0,1].
	Escape float64 `yaml:"escape" json:"escape"`
}

// Default returns the neutral wildtype.
func Default() Strain {
	return Strain{
		Name:                          Wildtype,
		Infectiousness:                1,
		FactorSeriouslySick:           1,
		FactorSeriouslySickVaccinated: 1,
		FactorCritical:                1,
	}
}

// Validate checks that every factor is usable.
func (s Strain) Validate() error {
	meta := map[string]string{"strain": s.Name}
	if s.Name == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "strain name is required")
	}
	if s.Infectiousness < 0 || s.FactorSeriouslySick < 0 || s.FactorSeriouslySickVaccinated < 0 || s.FactorCritical < 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "strain factors must be non-negative", meta)
	}
	if s.Escape < 0 || s.Escape > 1 {
		return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "strain escape must be in [0,1]", meta)
	}
	return nil
}

// Set is the immutable collection of strains known to a run.
type Set struct {
	byName map[string]Strain
	names  []string
}

// NewSet validates strains and always includes the wildtype.
func NewSet(strains ...Strain) (*Set, error) {
	s := &Set{byName: map[string]Strain{Wildtype: Default()}}
	for _, st := range strains {
		if err := st.Validate(); err != nil {
			return nil, err
		}
		s.byName[st.Name] = st
	}
	for name := range s.byName {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Get returns the named strain, falling back to the wildtype for "".
func (s *Set) Get(name string) (Strain, bool) {
	if name == "" {
		name = Wildtype
	}
	st, ok := s.byName[name]
	return st, ok
}

// MustGet returns the named strain or the wildtype when it is unknown.
func (s *Set) MustGet(name string) Strain {
	if st, ok := s.Get(name); ok {
		return st
	}
	return s.byName[Wildtype]
}

// Names returns the strain names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}
