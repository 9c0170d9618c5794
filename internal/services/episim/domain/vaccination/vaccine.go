// Package vaccination allocates daily vaccine doses and models the protection
// vaccinated persons carry into the infection model.
package vaccination

import (
	"fmt"
	"math"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
)

// Type describes one vaccine product.
type Type struct {
	Name string `yaml:"name"`
	// Effectiveness is the reduction of infection risk at full effect, in [0,1].
	Effectiveness float64 `yaml:"effectiveness"`
	// BoostEffectiveness is the reduction after a booster dose.
	BoostEffectiveness float64 `yaml:"boost_effectiveness"`
	// DaysUntilFull is how long protection ramps up linearly after a dose.
	DaysUntilFull int `yaml:"days_until_full"`
	// BoostWaitDays is the minimum time between the primary dose and a booster.
	BoostWaitDays int `yaml:"boost_wait_days"`
	// DaysValid is how long full protection lasts before it starts waning.
	DaysValid int `yaml:"days_valid"`
	// WaningHalfLife is the half-life in days of protection after DaysValid.
	// Zero disables waning.
	WaningHalfLife float64 `yaml:"waning_half_life"`
	// StrainEffectiveness overrides Effectiveness per strain.
	StrainEffectiveness map[string]float64 `yaml:"strain_effectiveness"`
}

// DefaultType is a generic mRNA-like vaccine.
func DefaultType() Type {
	return Type{
		Name:               "generic",
		Effectiveness:      0.9,
		BoostEffectiveness: 0.95,
		DaysUntilFull:      21,
		BoostWaitDays:      180,
		DaysValid:          180,
		WaningHalfLife:     120,
	}
}

func (v Type) validate() error {
	meta := map[string]string{"vaccine": v.Name}
	if v.Name == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "vaccine name is required")
	}
	inUnit := func(p float64) bool { return p >= 0 && p <= 1 && !math.IsNaN(p) }
	if !inUnit(v.Effectiveness) || !inUnit(v.BoostEffectiveness) {
		return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "vaccine effectiveness must be in [0,1]", meta)
	}
	for name, e := range v.StrainEffectiveness {
		if !inUnit(e) {
			return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "strain effectiveness must be in [0,1]",
				map[string]string{"vaccine": v.Name, "strain": name, "value": fmt.Sprint(e)})
		}
	}
	if v.DaysUntilFull < 0 || v.BoostWaitDays < 0 || v.DaysValid < 0 || v.WaningHalfLife < 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "vaccine day counts must be non-negative", meta)
	}
	return nil
}

// effectiveness returns the protection level daysSince days after a dose.
func (v Type) effectiveness(daysSince int, booster bool, strainName string) float64 {
	if daysSince < 0 {
		return 0
	}
	full := v.Effectiveness
	if e, ok := v.StrainEffectiveness[strainName]; ok {
		full = e
	}
	if booster {
		full = math.Max(full, v.BoostEffectiveness)
	}
	ramp := 1.0
	if v.DaysUntilFull > 0 && daysSince < v.DaysUntilFull {
		ramp = float64(daysSince) / float64(v.DaysUntilFull)
	}
	wane := 1.0
	if v.WaningHalfLife > 0 && daysSince > v.DaysValid {
		wane = math.Pow(0.5, float64(daysSince-v.DaysValid)/v.WaningHalfLife)
	}
	return full * ramp * wane
}

// Protection returns the multiplier on a susceptible person's infection
// hazard from vaccination: 1 for unvaccinated persons, lower as protection
// builds up. The strain's escape neutralizes part of the protection.
func (m *Model) Protection(p *person.Person, day int, st strain.Strain) float64 {
	if p.Vaccination == person.VaccinationNo {
		return 1
	}
	v, ok := m.types[p.VaccineType]
	if !ok {
		return 1
	}
	since := day - p.VaccinationDay
	boosted := false
	if p.Boosted && p.BoosterDay != person.NoDay {
		since = day - p.BoosterDay
		boosted = true
	}
	e := v.effectiveness(since, boosted, st.Name)
	return 1 - e*(1-st.Escape)
}
