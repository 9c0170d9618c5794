package policy

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// Scope selects whether the adaptive policy watches one global signal or one
// signal per district.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeDistrict Scope = "district"
)

const incidenceWindow = 7

// AdaptiveConfig parameterizes an Adaptive policy.
type AdaptiveConfig struct {
	Scope Scope
	// StartDate is the first date on which the policy may change state.
	StartDate time.Time
	// RestrictAt is the 7-day incidence per 100k at or above which
	// restrictions are tightened.
	RestrictAt float64
	// OpenAt is the incidence at or below which restrictions are relaxed.
	OpenAt float64
	// ConsecutiveDays is how many days in a row the threshold must be
	// crossed before the state flips.
	ConsecutiveDays int
	// Population is the global population; DistrictPopulation is used in
	// district scope.
	Population         int
	DistrictPopulation map[string]int
	// Restricted holds the deltas applied on top of Base while restricted.
	// In district scope only the participation fraction is district specific.
	Restricted map[string]restriction.Restriction
	// Base supplies the restrictions in force regardless of the signal.
	Base Policy
}

type regionState struct {
	cases      [incidenceWindow]int
	restricted bool
	streak     int
}

func (s *regionState) incidence(population int) float64 {
	total := 0
	for _, c := range s.cases {
		total += c
	}
	return float64(total) / float64(population) * 100_000
}

// Adaptive tightens and relaxes restrictions from the observed incidence.
// Its state changes only in Observe, so RestrictionsFor is idempotent.
type Adaptive struct {
	cfg AdaptiveConfig

	mu      sync.Mutex
	regions map[string]*regionState
	days    int
}

// NewAdaptive validates cfg.
func NewAdaptive(cfg AdaptiveConfig) (*Adaptive, error) {
	if cfg.Scope == "" {
		cfg.Scope = ScopeGlobal
	}
	if cfg.ConsecutiveDays < 1 {
		cfg.ConsecutiveDays = 1
	}
	switch {
	case cfg.Scope != ScopeGlobal && cfg.Scope != ScopeDistrict:
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown adaptive scope", map[string]string{"scope": string(cfg.Scope)})
	case cfg.RestrictAt <= 0 || cfg.OpenAt < 0:
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "adaptive thresholds must be positive")
	case cfg.OpenAt > cfg.RestrictAt:
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "open threshold above restrict threshold",
			map[string]string{"open_at": fmt.Sprint(cfg.OpenAt), "restrict_at": fmt.Sprint(cfg.RestrictAt)})
	case cfg.Scope == ScopeGlobal && cfg.Population <= 0:
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "adaptive policy needs a positive population")
	case cfg.Scope == ScopeDistrict && len(cfg.DistrictPopulation) == 0:
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "district scope needs district populations")
	}
	for district, pop := range cfg.DistrictPopulation {
		if pop <= 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "district population must be positive", map[string]string{"district": district})
		}
	}
	for act, r := range cfg.Restricted {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("adaptive restriction %s: %w", act, err)
		}
	}
	if cfg.Base == nil {
		acts := make([]string, 0, len(cfg.Restricted))
		for act := range cfg.Restricted {
			acts = append(acts, act)
		}
		sort.Strings(acts)
		cfg.Base = Static(acts)
	}
	cfg.StartDate = calendar.Normalize(cfg.StartDate)
	a := &Adaptive{cfg: cfg, regions: make(map[string]*regionState)}
	if cfg.Scope == ScopeGlobal {
		a.regions[""] = &regionState{}
	} else {
		for district := range cfg.DistrictPopulation {
			a.regions[district] = &regionState{}
		}
	}
	return a, nil
}

// Observe records the day's new cases and updates the restriction state.
// In global scope the district counts are summed.
func (a *Adaptive) Observe(date time.Time, casesByDistrict map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := a.days % incidenceWindow
	a.days++
	for key, region := range a.regions {
		if a.cfg.Scope == ScopeGlobal {
			total := 0
			for _, c := range casesByDistrict {
				total += c
			}
			region.cases[slot] = total
		} else {
			region.cases[slot] = casesByDistrict[key]
		}
	}
	if calendar.Normalize(date).Before(a.cfg.StartDate) {
		return
	}
	for key, region := range a.regions {
		pop := a.cfg.Population
		if a.cfg.Scope == ScopeDistrict {
			pop = a.cfg.DistrictPopulation[key]
		}
		inc := region.incidence(pop)
		crossing := (!region.restricted && inc >= a.cfg.RestrictAt) || (region.restricted && inc <= a.cfg.OpenAt)
		if !crossing {
			region.streak = 0
			continue
		}
		region.streak++
		if region.streak >= a.cfg.ConsecutiveDays {
			region.restricted = !region.restricted
			region.streak = 0
		}
	}
}

// Restricted reports whether the region is currently restricted. Use "" in
// global scope.
func (a *Adaptive) Restricted(district string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regions[district]
	return ok && r.restricted
}

// RestrictionsFor returns the base restrictions with the restricted deltas
// applied to the regions currently under restriction.
func (a *Adaptive) RestrictionsFor(date time.Time) map[string]restriction.Restriction {
	out := a.cfg.Base.RestrictionsFor(date)

	a.mu.Lock()
	defer a.mu.Unlock()

	for act, delta := range a.cfg.Restricted {
		base, ok := out[act]
		if !ok {
			base = restriction.None()
		}
		if a.cfg.Scope == ScopeGlobal {
			if a.regions[""].restricted {
				base = base.Merge(delta)
			}
			out[act] = base
			continue
		}
		if delta.RemainingFraction == nil {
			out[act] = base
			continue
		}
		districts := maps.Clone(base.DistrictFractions)
		for district, region := range a.regions {
			if region.restricted {
				if districts == nil {
					districts = make(map[string]float64)
				}
				districts[district] = *delta.RemainingFraction
			}
		}
		base.DistrictFractions = districts
		out[act] = base
	}
	return out
}

type regionJSON struct {
	Cases      [incidenceWindow]int `json:"cases"`
	Restricted bool                 `json:"restricted"`
	Streak     int                  `json:"streak"`
}

type adaptiveJSON struct {
	Days    int                   `json:"days"`
	Regions map[string]regionJSON `json:"regions"`
}

// State encodes the incidence window and restriction state of every region.
func (a *Adaptive) State() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := adaptiveJSON{Days: a.days, Regions: make(map[string]regionJSON, len(a.regions))}
	for key, r := range a.regions {
		out.Regions[key] = regionJSON{Cases: r.cases, Restricted: r.restricted, Streak: r.streak}
	}
	return json.Marshal(out)
}

// RestoreState replaces the state with one produced by State. The regions
// must match the configured scope.
func (a *Adaptive) RestoreState(data []byte) error {
	var in adaptiveJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointMismatch, "decode adaptive policy state", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(in.Regions) != len(a.regions) {
		return apperrors.New(apperrors.CodeCheckpointMismatch, "adaptive policy regions differ from checkpoint")
	}
	for key := range a.regions {
		if _, ok := in.Regions[key]; !ok {
			return apperrors.WithMetadata(apperrors.CodeCheckpointMismatch, "adaptive policy region missing from checkpoint", map[string]string{"region": key})
		}
	}
	for key, r := range in.Regions {
		a.regions[key] = &regionState{cases: r.Cases, restricted: r.Restricted, streak: r.Streak}
	}
	a.days = in.Days
	return nil
}
