// Package report carries the immutable per-day summary of a run to its
// consumers without blocking the simulation.
package report

import (
	"maps"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
)

// Totals are cumulative counts since day 0.
type Totals struct {
	Infections int `json:"infections"`
	Imported   int `json:"imported"`
	Doses      int `json:"doses"`
	Boosters   int `json:"boosters"`
}

// Snapshot summarizes the registry at the end of one day. Maps are owned by
// the snapshot and must not be modified by consumers.
type Snapshot struct {
	RunID string    `json:"run_id"`
	Day   int       `json:"day"`
	Date  time.Time `json:"date"`

	// Status and Quarantine count persons by status name.
	Status     map[string]int `json:"status"`
	Quarantine map[string]int `json:"quarantine"`
	// InfectedByStrain counts currently infected persons per strain.
	InfectedByStrain map[string]int `json:"infected_by_strain"`

	NewInfections         int            `json:"new_infections"`
	NewInfectionsByStrain map[string]int `json:"new_infections_by_strain"`
	// NewCases counts onsets of the tracing trigger status, per district.
	NewCases        int            `json:"new_cases"`
	CasesByDistrict map[string]int `json:"cases_by_district"`
	Imported        int            `json:"imported"`
	Doses           int            `json:"doses"`
	Boosters        int            `json:"boosters"`

	Tracing tracing.Counters `json:"tracing"`
	Totals  Totals           `json:"totals"`
}

// Count fills the status, quarantine and strain counts from the registry.
func (s *Snapshot) Count(reg *person.Registry) {
	s.Status = make(map[string]int, len(person.DiseaseStatuses))
	for _, st := range person.DiseaseStatuses {
		s.Status[st.String()] = 0
	}
	s.Quarantine = make(map[string]int, len(person.QuarantineStatuses))
	for _, q := range person.QuarantineStatuses {
		s.Quarantine[q.String()] = 0
	}
	s.InfectedByStrain = make(map[string]int)
	for _, p := range reg.All() {
		s.Status[p.Status.String()]++
		s.Quarantine[p.Quarantine.String()]++
		if p.Status.Infected() {
			s.InfectedByStrain[p.Strain]++
		}
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	s.Status = maps.Clone(s.Status)
	s.Quarantine = maps.Clone(s.Quarantine)
	s.InfectedByStrain = maps.Clone(s.InfectedByStrain)
	s.NewInfectionsByStrain = maps.Clone(s.NewInfectionsByStrain)
	s.CasesByDistrict = maps.Clone(s.CasesByDistrict)
	return s
}
