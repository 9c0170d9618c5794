// Package person owns per-agent epidemic state: disease, quarantine and
// vaccination status, current strain and the rolling contact log.
package person

import "fmt"

// DiseaseStatus is the stage of the disease state machine a person is in.
type DiseaseStatus int

const (
	Susceptible DiseaseStatus = iota
	InfectedButNotContagious
	Contagious
	ShowingSymptoms
	SeriouslySick
	Critical
	SeriouslySickAfterCritical
	Recovered
)

// DiseaseStatuses lists every status in declaration order.
var DiseaseStatuses = []DiseaseStatus{
	Susceptible,
	InfectedButNotContagious,
	Contagious,
	ShowingSymptoms,
	SeriouslySick,
	Critical,
	SeriouslySickAfterCritical,
	Recovered,
}

var diseaseStatusNames = [...]string{
	"susceptible",
	"infectedButNotContagious",
	"contagious",
	"showingSymptoms",
	"seriouslySick",
	"critical",
	"seriouslySickAfterCritical",
	"recovered",
}

func (s DiseaseStatus) String() string {
	if s < 0 || int(s) >= len(diseaseStatusNames) {
		return fmt.Sprintf("DiseaseStatus(%d)", int(s))
	}
	return diseaseStatusNames[s]
}

// ParseDiseaseStatus returns the status with the given name.
func ParseDiseaseStatus(name string) (DiseaseStatus, error) {
	for i, n := range diseaseStatusNames {
		if n == name {
			return DiseaseStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown disease status %q", name)
}

// Infectious reports whether persons in this status shed virus.
func (s DiseaseStatus) Infectious() bool {
	return s == Contagious || s == ShowingSymptoms
}

// Hospitalized reports whether persons in this status are in hospital and
// therefore absent from all activity containers.
func (s DiseaseStatus) Hospitalized() bool {
	return s == SeriouslySick || s == Critical || s == SeriouslySickAfterCritical
}

// Infected reports whether the status belongs to an ongoing infection.
func (s DiseaseStatus) Infected() bool {
	return s != Susceptible && s != Recovered
}

// QuarantineStatus is the isolation state of a person.
type QuarantineStatus int

const (
	QuarantineNo QuarantineStatus = iota
	QuarantineAtHome
	QuarantineAtHomeTested
)

// QuarantineStatuses lists every quarantine status in declaration order.
var QuarantineStatuses = []QuarantineStatus{QuarantineNo, QuarantineAtHome, QuarantineAtHomeTested}

func (q QuarantineStatus) String() string {
	switch q {
	case QuarantineNo:
		return "no"
	case QuarantineAtHome:
		return "atHome"
	case QuarantineAtHomeTested:
		return "atHomeTested"
	default:
		return fmt.Sprintf("QuarantineStatus(%d)", int(q))
	}
}

// ParseQuarantineStatus returns the quarantine status with the given name.
func ParseQuarantineStatus(name string) (QuarantineStatus, error) {
	for _, q := range QuarantineStatuses {
		if q.String() == name {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown quarantine status %q", name)
}

// VaccinationStatus is the primary-series vaccination state of a person.
type VaccinationStatus int

const (
	VaccinationNo VaccinationStatus = iota
	VaccinationPartial
	VaccinationFull
)

func (v VaccinationStatus) String() string {
	switch v {
	case VaccinationNo:
		return "no"
	case VaccinationPartial:
		return "partial"
	case VaccinationFull:
		return "full"
	default:
		return fmt.Sprintf("VaccinationStatus(%d)", int(v))
	}
}
