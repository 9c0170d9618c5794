// Package mobility defines the co-presence data the engine consumes and the
// sources that supply it one simulated day at a time.
package mobility

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// ErrNoDay indicates a source has no data for the requested day.
var ErrNoDay = errors.New("no mobility data for day")

// Visit is one person's stay in a container. Enter and Exit are seconds since
// midnight of the simulated day; Exit may pass 24h for overnight stays.
type Visit struct {
	Person string  `json:"person"`
	Enter  float64 `json:"enter"`
	Exit   float64 `json:"exit"`
}

// Container is one activity location instance for one day.
type Container struct {
	ID       string  `json:"id"`
	Activity string  `json:"activity"`
	Spaces   float64 `json:"spaces"`
	Visits   []Visit `json:"visits"`
}

// TestResult is an externally supplied test outcome.
type TestResult struct {
	Person   string `json:"person"`
	Positive bool   `json:"positive"`
}

// Day is everything the engine needs from the outside for one day.
type Day struct {
	Date       time.Time    `json:"date"`
	Containers []Container  `json:"containers"`
	Tests      []TestResult `json:"tests,omitempty"`
}

// Source supplies co-presence data per day. Restrictions are passed along so
// sources that model participation can suppress presence for closed
// activities.
type Source interface {
	Day(ctx context.Context, day int, date time.Time, restrictions map[string]restriction.Restriction) (Day, error)
}

// Memory is a Source backed by fixed days. Days beyond the slice repeat the
// last one.
type Memory struct {
	Days []Day
}

// Day implements Source.
func (m Memory) Day(ctx context.Context, day int, date time.Time, _ map[string]restriction.Restriction) (Day, error) {
	if err := ctx.Err(); err != nil {
		return Day{}, err
	}
	if len(m.Days) == 0 || day < 0 {
		return Day{}, ErrNoDay
	}
	if day >= len(m.Days) {
		day = len(m.Days) - 1
	}
	out := m.Days[day]
	out.Date = date
	return out, nil
}

// Normalize sorts visits by entry time within every container, the order the
// engine expects.
func Normalize(d *Day) {
	for i := range d.Containers {
		v := d.Containers[i].Visits
		sort.SliceStable(v, func(a, b int) bool { return v[a].Enter < v[b].Enter })
	}
}
