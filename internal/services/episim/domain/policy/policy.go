// Package policy computes the restrictions in force on a given date.
//
// A Fixed policy is a calendar assembled from dated deltas; an Adaptive policy
// reacts to the observed incidence with hysteresis. Both return a fresh map
// on every call, so callers may not affect later lookups.
package policy

import (
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// Policy yields the restriction set for a date.
type Policy interface {
	RestrictionsFor(date time.Time) map[string]restriction.Restriction
}

// Observer is implemented by policies that react to reported cases. The
// engine calls Observe once per day after the day's reports are known.
type Observer interface {
	Observe(date time.Time, casesByDistrict map[string]int)
}

// Static is a policy that never restricts the listed activities.
type Static []string

// RestrictionsFor returns None for every activity.
func (s Static) RestrictionsFor(time.Time) map[string]restriction.Restriction {
	out := make(map[string]restriction.Restriction, len(s))
	for _, act := range s {
		out[act] = restriction.None()
	}
	return out
}

// Stateful is implemented by policies whose decisions depend on history.
// The state is opaque to callers and stored with checkpoints.
type Stateful interface {
	State() ([]byte, error)
	RestoreState(data []byte) error
}
