// Package restriction defines the per-activity intervention value and its
// merge semantics.
package restriction

import (
	"fmt"
	"maps"
	"math"
	"slices"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
)

const secondsPerDay = 24 * 3600

// ClosingHours is a daily window, in whole hours, during which a facility is
// closed. From > To wraps around midnight.
type ClosingHours struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
}

// Restriction is a per-activity-type intervention. Nil fields are unset: in
// a calendar delta they leave the previous value in force, and in an
// effective restriction returned by a policy every field is set.
type Restriction struct {
	RemainingFraction *float64           `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	CiCorrection      *float64           `yaml:"ci_correction,omitempty" json:"ci_correction,omitempty"`
	Masks             []MaskShare        `yaml:"masks,omitempty" json:"masks,omitempty"`
	ClosingHours      *ClosingHours      `yaml:"closing_hours,omitempty" json:"closing_hours,omitempty"`
	VaccinatedRf      *float64           `yaml:"vaccinated_rf,omitempty" json:"vaccinated_rf,omitempty"`
	SusceptibleRf     *float64           `yaml:"susceptible_rf,omitempty" json:"susceptible_rf,omitempty"`
	DistrictFractions map[string]float64 `yaml:"district_fractions,omitempty" json:"district_fractions,omitempty"`

	// MasksSet puts Masks in force even when empty, so an explicit "no
	// masks" differs from an unset field.
	MasksSet bool `yaml:"masks_set,omitempty" json:"masks_set,omitempty"`
	// OpenHours clears closing hours when merged.
	OpenHours bool `yaml:"open_hours,omitempty" json:"open_hours,omitempty"`
}

func ptr(v float64) *float64 { return &v }

// None returns a fully specified restriction that restricts nothing.
func None() Restriction {
	return Restriction{
		RemainingFraction: ptr(1),
		CiCorrection:      ptr(1),
		VaccinatedRf:      ptr(1),
		SusceptibleRf:     ptr(1),
		MasksSet:          true,
		OpenHours:         true,
	}
}

// OfFraction restricts participation to the remaining fraction f.
func OfFraction(f float64) Restriction {
	return Restriction{RemainingFraction: ptr(f)}
}

// OfCiCorrection scales the contact intensity.
func OfCiCorrection(c float64) Restriction {
	return Restriction{CiCorrection: ptr(c)}
}

// OfMask requires masks with the given ordered compliance shares.
func OfMask(shares ...MaskShare) Restriction {
	return Restriction{Masks: slices.Clone(shares), MasksSet: true}
}

// OfClosingHours closes the facility between from and to hours.
func OfClosingHours(from, to int) Restriction {
	return Restriction{ClosingHours: &ClosingHours{From: from, To: to}}
}

// OfVaccinatedRf scales the risk of vaccinated susceptible persons.
func OfVaccinatedRf(rf float64) Restriction {
	return Restriction{VaccinatedRf: ptr(rf)}
}

// OfSusceptibleRf scales the risk of unvaccinated susceptible persons.
func OfSusceptibleRf(rf float64) Restriction {
	return Restriction{SusceptibleRf: ptr(rf)}
}

// WithDistricts restricts participation per district on top of a global
// fallback fraction.
func WithDistricts(fallback float64, districts map[string]float64) Restriction {
	return Restriction{RemainingFraction: ptr(fallback), DistrictFractions: maps.Clone(districts)}
}

// Merge returns r with every set field of delta applied over it.
func (r Restriction) Merge(delta Restriction) Restriction {
	out := r.Clone()
	if delta.RemainingFraction != nil {
		out.RemainingFraction = ptr(*delta.RemainingFraction)
		if delta.DistrictFractions == nil {
			out.DistrictFractions = nil
		}
	}
	if delta.DistrictFractions != nil {
		out.DistrictFractions = maps.Clone(delta.DistrictFractions)
	}
	if delta.CiCorrection != nil {
		out.CiCorrection = ptr(*delta.CiCorrection)
	}
	if delta.MasksSet || delta.Masks != nil {
		out.Masks = slices.Clone(delta.Masks)
		out.MasksSet = true
	}
	if delta.ClosingHours != nil {
		h := *delta.ClosingHours
		out.ClosingHours = &h
	} else if delta.OpenHours {
		out.ClosingHours = nil
	}
	if delta.VaccinatedRf != nil {
		out.VaccinatedRf = ptr(*delta.VaccinatedRf)
	}
	if delta.SusceptibleRf != nil {
		out.SusceptibleRf = ptr(*delta.SusceptibleRf)
	}
	return out
}

// Clone returns a deep copy.
func (r Restriction) Clone() Restriction {
	out := r
	if r.RemainingFraction != nil {
		out.RemainingFraction = ptr(*r.RemainingFraction)
	}
	if r.CiCorrection != nil {
		out.CiCorrection = ptr(*r.CiCorrection)
	}
	if r.VaccinatedRf != nil {
		out.VaccinatedRf = ptr(*r.VaccinatedRf)
	}
	if r.SusceptibleRf != nil {
		out.SusceptibleRf = ptr(*r.SusceptibleRf)
	}
	if r.ClosingHours != nil {
		h := *r.ClosingHours
		out.ClosingHours = &h
	}
	out.Masks = slices.Clone(r.Masks)
	out.DistrictFractions = maps.Clone(r.DistrictFractions)
	return out
}

// Fraction returns the remaining participation fraction, 1 when unset.
func (r Restriction) Fraction() float64 {
	if r.RemainingFraction == nil {
		return 1
	}
	return *r.RemainingFraction
}

// FractionFor returns the participation fraction for a district, falling
// back to the global fraction.
func (r Restriction) FractionFor(district string) float64 {
	if f, ok := r.DistrictFractions[district]; ok {
		return f
	}
	return r.Fraction()
}

// Ci returns the contact intensity correction, 1 when unset.
func (r Restriction) Ci() float64 {
	if r.CiCorrection == nil {
		return 1
	}
	return *r.CiCorrection
}

// VaccinatedRiskFactor returns the vaccinated risk multiplier, 1 when unset.
func (r Restriction) VaccinatedRiskFactor() float64 {
	if r.VaccinatedRf == nil {
		return 1
	}
	return *r.VaccinatedRf
}

// SusceptibleRiskFactor returns the unvaccinated risk multiplier, 1 when unset.
func (r Restriction) SusceptibleRiskFactor() float64 {
	if r.SusceptibleRf == nil {
		return 1
	}
	return *r.SusceptibleRf
}

// Closed reports whether the restriction fully closes the activity.
func (r Restriction) Closed() bool {
	return r.Fraction() == 0 && len(r.DistrictFractions) == 0
}

// Validate checks value ranges for every set field.
func (r Restriction) Validate() error {
	inUnit := func(name string, v *float64) error {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			return apperrors.WithMetadata(apperrors.CodeInvalidProbability, name+" must be in [0,1]",
				map[string]string{"value": fmt.Sprint(*v)})
		}
		return nil
	}
	nonNeg := func(name string, v *float64) error {
		if v != nil && (math.IsNaN(*v) || *v < 0) {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, name+" must be non-negative",
				map[string]string{"value": fmt.Sprint(*v)})
		}
		return nil
	}
	if err := inUnit("remaining fraction", r.RemainingFraction); err != nil {
		return err
	}
	for district, f := range r.DistrictFractions {
		if err := inUnit("district fraction "+district, &f); err != nil {
			return err
		}
	}
	for _, v := range []struct {
		name string
		v    *float64
	}{{"ci correction", r.CiCorrection}, {"vaccinated rf", r.VaccinatedRf}, {"susceptible rf", r.SusceptibleRf}} {
		if err := nonNeg(v.name, v.v); err != nil {
			return err
		}
	}
	total := 0.0
	for _, m := range r.Masks {
		if _, err := ParseMaskType(string(m.Type)); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidConfig, "mask distribution", err)
		}
		if err := inUnit("mask fraction", &m.Fraction); err != nil {
			return err
		}
		total += m.Fraction
	}
	if total > 1+1e-9 {
		return apperrors.WithMetadata(apperrors.CodeInvalidProbability, "mask fractions exceed 1",
			map[string]string{"total": fmt.Sprint(total)})
	}
	if h := r.ClosingHours; h != nil {
		if h.From < 0 || h.From > 24 || h.To < 0 || h.To > 24 || h.From == h.To {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "closing hours out of range",
				map[string]string{"from": fmt.Sprint(h.From), "to": fmt.Sprint(h.To)})
		}
	}
	return nil
}

// OpenDuration returns the part of [start, end] (seconds since midnight of
// the simulated day, end may exceed one day) that lies outside the closed
// window. With no closing hours it is the plain interval length.
func (h *ClosingHours) OpenDuration(start, end float64) float64 {
	if end <= start {
		return 0
	}
	total := end - start
	if h == nil {
		return total
	}
	from := float64(h.From) * 3600
	to := float64(h.To) * 3600
	if to < from {
		to += secondsPerDay
	}
	first := math.Floor(start/secondsPerDay) - 1
	last := math.Floor(end / secondsPerDay)
	closed := 0.0
	for k := first; k <= last; k++ {
		lo := k*secondsPerDay + from
		hi := k*secondsPerDay + to
		closed += overlap(start, end, lo, hi)
	}
	return math.Max(0, total-closed)
}

func overlap(a0, a1, b0, b1 float64) float64 {
	lo := math.Max(a0, b0)
	hi := math.Min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}
