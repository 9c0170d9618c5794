// Package infection turns one day of co-presence into new infections.
//
// Every susceptible person accumulates hazard from each infectious person it
// shared a container with. The hazard of a pair is the product of the
// activity's contact intensity, the active restriction, the season, the
// carrier's strain and mask, the susceptible person's mask, protection and
// risk factor, and the open overlap time divided by the container's spaces.
// At the end of the day one uniform draw per exposed person decides
// infection.
package infection

import (
	"fmt"
	"math"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
)

// HazardMode selects how total hazard becomes a probability.
type HazardMode string

const (
	// HazardExponential is Poisson thinning, 1 - exp(-h).
	HazardExponential HazardMode = "exponential"
	// HazardLinearCapped uses h directly, capped below one.
	HazardLinearCapped HazardMode = "linear_capped"
)

// maxProbability keeps probabilities strictly below one.
var maxProbability = math.Nextafter(1, 0)

// Probability converts a non-negative hazard into an infection probability in
// [0,1). A hazard of zero yields zero.
func Probability(mode HazardMode, h float64) float64 {
	if !(h > 0) {
		return 0
	}
	var p float64
	if mode == HazardLinearCapped {
		p = h
	} else {
		p = -math.Expm1(-h)
	}
	return math.Min(p, maxProbability)
}

// ActivityParams are the transmission parameters of one activity type.
type ActivityParams struct {
	Name string `yaml:"name"`
	// ContactIntensity is the base transmission scalar of the type.
	ContactIntensity float64 `yaml:"contact_intensity"`
	// Home marks household containers. Quarantined persons still attend them.
	Home bool `yaml:"home"`
}

// Config parameterizes a Model.
type Config struct {
	Activities []ActivityParams
	// Calibration scales every hazard; it is fitted per scenario.
	Calibration float64
	Mode        HazardMode
	// Seasonal is a date dependent multiplier, 1 when unset.
	Seasonal *calendar.Series[float64]
	// ReinfectionProtection reduces the hazard of persons who were infected
	// before, in [0,1]. Strain escape neutralizes part of it.
	ReinfectionProtection float64
	// TrackContacts records every co-present pair of trace-equipped persons
	// in the contact logs. It is set when tracing is configured.
	TrackContacts bool
	// MinContactDuration is the shortest overlap, in seconds, recorded in
	// contact logs.
	MinContactDuration float64
	// Workers bounds parallel container evaluation. Zero means one worker per CPU.
	Workers int
}

func (c Config) validate() error {
	if len(c.Activities) == 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "at least one activity type is required")
	}
	seen := make(map[string]bool, len(c.Activities))
	for _, a := range c.Activities {
		if a.Name == "" {
			return apperrors.New(apperrors.CodeInvalidConfig, "activity name is required")
		}
		if seen[a.Name] {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "duplicate activity type", map[string]string{"activity": a.Name})
		}
		seen[a.Name] = true
		if a.ContactIntensity < 0 || math.IsNaN(a.ContactIntensity) {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "contact intensity must be non-negative",
				map[string]string{"activity": a.Name, "value": fmt.Sprint(a.ContactIntensity)})
		}
	}
	if c.Calibration < 0 || math.IsNaN(c.Calibration) {
		return apperrors.New(apperrors.CodeInvalidConfig, "calibration parameter must be non-negative")
	}
	if c.Mode != HazardExponential && c.Mode != HazardLinearCapped {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown hazard mode", map[string]string{"mode": string(c.Mode)})
	}
	if c.ReinfectionProtection < 0 || c.ReinfectionProtection > 1 {
		return apperrors.New(apperrors.CodeInvalidProbability, "reinfection protection must be in [0,1]")
	}
	for _, e := range c.Seasonal.Entries() {
		if e.Value < 0 {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "seasonal factor must be non-negative",
				map[string]string{"date": e.Date.Format(calendar.DateLayout)})
		}
	}
	if c.MinContactDuration < 0 || c.Workers < 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "contact duration and workers must be non-negative")
	}
	return nil
}
