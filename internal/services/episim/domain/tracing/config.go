// Package tracing quarantines the recorded contacts of detected cases.
package tracing

import (
	"fmt"
	"math"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

// CapacityType selects what the daily tracing capacity counts.
type CapacityType string

const (
	// CapacityPerPerson counts index cases whose contacts are traced.
	CapacityPerPerson CapacityType = "perPerson"
	// CapacityPerContact counts traced contacts.
	CapacityPerContact CapacityType = "perContact"
)

// Config parameterizes contact tracing.
type Config struct {
	// EnableDay is the first simulated day on which triggers are traced.
	EnableDay int
	// Delay is the number of days between a trigger and the quarantine of
	// its contacts. Zero quarantines on the trigger day.
	Delay int
	// Probability is the chance each logged contact is reached, per date.
	// Unset means 1.
	Probability *calendar.Series[float64]
	// Lookback is how many days of contact history are traced.
	Lookback int
	// MinDuration is the shortest contact, in seconds, that is traced.
	MinDuration float64
	// TraceSusceptible also quarantines contacts who are still susceptible.
	TraceSusceptible bool
	// EquipmentRate is the share of persons whose contacts are recorded.
	EquipmentRate float64
	CapacityType  CapacityType
	// Capacity bounds tracing per day from a date on. Unset is unlimited.
	Capacity *calendar.Series[int]
	// QuarantineHousehold quarantines household members of a case without
	// probability or capacity checks.
	QuarantineHousehold bool
	// QuarantineIndexCase isolates the triggering person on the trigger day.
	QuarantineIndexCase bool
	// QuarantineStatus chooses the status applied to traced contacts from a
	// date on. Unset means atHome.
	QuarantineStatus *calendar.Series[person.QuarantineStatus]
	// TriggerStatus is the disease status whose onset starts tracing.
	TriggerStatus person.DiseaseStatus
	// TraceOnPositiveTest also triggers tracing from positive test results.
	TraceOnPositiveTest bool
	// QuarantineDays is how long a quarantine lasts; QuarantineDaysByStatus
	// overrides it for persons in the given disease status.
	QuarantineDays         int
	QuarantineDaysByStatus map[person.DiseaseStatus]int
}

// DefaultConfig returns tracing with no capacity limit, triggered by
// symptom onset.
func DefaultConfig() Config {
	return Config{
		Lookback:            4,
		MinDuration:         0,
		TraceSusceptible:    true,
		EquipmentRate:       1,
		CapacityType:        CapacityPerPerson,
		QuarantineHousehold: true,
		QuarantineIndexCase: true,
		TriggerStatus:       person.ShowingSymptoms,
		QuarantineDays:      14,
	}
}

func (c Config) validate() error {
	if c.Delay < 0 || c.Lookback < 0 || c.MinDuration < 0 || c.QuarantineDays < 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "tracing delays and durations must be non-negative",
			map[string]string{"delay": fmt.Sprint(c.Delay), "lookback": fmt.Sprint(c.Lookback)})
	}
	if c.EquipmentRate < 0 || c.EquipmentRate > 1 || math.IsNaN(c.EquipmentRate) {
		return apperrors.New(apperrors.CodeInvalidProbability, "equipment rate must be in [0,1]")
	}
	for _, e := range c.Probability.Entries() {
		if e.Value < 0 || e.Value > 1 || math.IsNaN(e.Value) {
			return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "tracing probability must be in [0,1]",
				map[string]string{"date": e.Date.Format(calendar.DateLayout)})
		}
	}
	for _, e := range c.Capacity.Entries() {
		if e.Value < 0 {
			return apperrors.WithMetadata(apperrors.CodeInvalidCapacity, "tracing capacity must be non-negative",
				map[string]string{"date": e.Date.Format(calendar.DateLayout)})
		}
	}
	if c.CapacityType != CapacityPerPerson && c.CapacityType != CapacityPerContact {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown tracing capacity type", map[string]string{"type": string(c.CapacityType)})
	}
	// Triggers fire on progression transitions; infection itself is not one.
	if c.TriggerStatus == person.Susceptible || c.TriggerStatus == person.InfectedButNotContagious {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "tracing trigger must be a progression status",
			map[string]string{"status": c.TriggerStatus.String()})
	}
	for status, days := range c.QuarantineDaysByStatus {
		if days < 0 {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "quarantine days must be non-negative", map[string]string{"status": status.String()})
		}
	}
	return nil
}
