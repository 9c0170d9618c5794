package policy

import (
	"fmt"
	"slices"
	"sort"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// RfFunc transforms a participation fraction in effect on date.
type RfFunc func(date time.Time, fraction float64) float64

// ApplyFunc transforms a whole restriction delta stored on date.
type ApplyFunc func(date time.Time, r restriction.Restriction) restriction.Restriction

// Builder composes a fixed restriction calendar. Calls record deltas per
// activity type; Build resolves them into effective restrictions. The first
// error encountered is reported by Build.
type Builder struct {
	known  map[string]bool
	deltas map[string]*calendar.Series[restriction.Restriction]
	err    error
}

// NewBuilder returns an empty builder. When activities are given, every later
// call must name one of them.
func NewBuilder(activities ...string) *Builder {
	b := &Builder{deltas: make(map[string]*calendar.Series[restriction.Restriction])}
	if len(activities) > 0 {
		b.known = make(map[string]bool, len(activities))
		for _, act := range activities {
			b.known[act] = true
			b.deltas[act] = &calendar.Series[restriction.Restriction]{}
		}
	}
	return b
}

func (b *Builder) check(op string, activities []string) bool {
	if b.err != nil {
		return false
	}
	if len(activities) == 0 {
		b.err = apperrors.WithMetadata(apperrors.CodeInvalidConfig, "no activity types given", map[string]string{"op": op})
		return false
	}
	for _, act := range activities {
		if b.known != nil && !b.known[act] {
			b.err = apperrors.WithMetadata(apperrors.CodeUnknownActivity, "unknown activity type",
				map[string]string{"op": op, "activity": act})
			return false
		}
	}
	return true
}

func (b *Builder) series(act string) *calendar.Series[restriction.Restriction] {
	s, ok := b.deltas[act]
	if !ok {
		s = &calendar.Series[restriction.Restriction]{}
		b.deltas[act] = s
	}
	return s
}

// Restrict sets r for the activities from date until the next change. A
// second call on the same date merges into the first.
func (b *Builder) Restrict(date time.Time, r restriction.Restriction, activities ...string) *Builder {
	if !b.check("restrict", activities) {
		return b
	}
	if err := r.Validate(); err != nil {
		b.err = fmt.Errorf("restrict %s %v: %w", date.Format(calendar.DateLayout), activities, err)
		return b
	}
	for _, act := range activities {
		s := b.series(act)
		prev, _ := s.Exact(date)
		s.Put(date, prev.Merge(r))
	}
	return b
}

// RestrictFraction is Restrict with a plain participation fraction.
func (b *Builder) RestrictFraction(date time.Time, fraction float64, activities ...string) *Builder {
	return b.Restrict(date, restriction.OfFraction(fraction), activities...)
}

// Open lifts every restriction of the activities from date on.
func (b *Builder) Open(date time.Time, activities ...string) *Builder {
	if !b.check("open", activities) {
		return b
	}
	for _, act := range activities {
		b.series(act).Put(date, restriction.None())
	}
	return b
}

// ApplyToRf transforms the participation fraction of every entry already
// recorded in [start, end] that sets one explicitly. Entries without an
// explicit fraction are left alone, so the transform never leaks into
// fields the calendar did not set.
func (b *Builder) ApplyToRf(start, end time.Time, fn RfFunc, activities ...string) *Builder {
	if !b.check("applyToRf", activities) {
		return b
	}
	return b.transform(start, end, activities, func(date time.Time, r restriction.Restriction) restriction.Restriction {
		if r.RemainingFraction == nil {
			return r
		}
		out := r.Clone()
		v := fn(date, *r.RemainingFraction)
		out.RemainingFraction = &v
		return out
	})
}

// Apply transforms every entry already recorded in [start, end].
func (b *Builder) Apply(start, end time.Time, fn ApplyFunc, activities ...string) *Builder {
	if !b.check("apply", activities) {
		return b
	}
	return b.transform(start, end, activities, fn)
}

func (b *Builder) transform(start, end time.Time, activities []string, fn ApplyFunc) *Builder {
	start, end = calendar.Normalize(start), calendar.Normalize(end)
	if end.Before(start) {
		b.err = apperrors.WithMetadata(apperrors.CodeInvalidCalendar, "range end before start",
			map[string]string{"start": start.Format(calendar.DateLayout), "end": end.Format(calendar.DateLayout)})
		return b
	}
	for _, act := range activities {
		s := b.series(act)
		for _, e := range s.Entries() {
			if e.Date.Before(start) || e.Date.After(end) {
				continue
			}
			next := fn(e.Date, e.Value.Clone())
			if err := next.Validate(); err != nil {
				b.err = fmt.Errorf("transform %s %s: %w", act, e.Date.Format(calendar.DateLayout), err)
				return b
			}
			s.Put(e.Date, next)
		}
	}
	return b
}

// Build resolves the recorded deltas into a Fixed policy. Each effective
// restriction is the previous effective value with the delta merged over it,
// starting from None.
func (b *Builder) Build() (*Fixed, error) {
	if b.err != nil {
		return nil, b.err
	}
	f := &Fixed{effective: make(map[string]*calendar.Series[restriction.Restriction], len(b.deltas))}
	for act, deltas := range b.deltas {
		eff := &calendar.Series[restriction.Restriction]{}
		current := restriction.None()
		for _, e := range deltas.Entries() {
			current = current.Merge(e.Value)
			if err := current.Validate(); err != nil {
				return nil, fmt.Errorf("activity %s on %s: %w", act, e.Date.Format(calendar.DateLayout), err)
			}
			eff.Put(e.Date, current)
		}
		f.effective[act] = eff
		f.activities = append(f.activities, act)
	}
	sort.Strings(f.activities)
	return f, nil
}

// Fixed is an immutable restriction calendar.
type Fixed struct {
	activities []string
	effective  map[string]*calendar.Series[restriction.Restriction]
}

// Activities returns the activity types the policy covers.
func (f *Fixed) Activities() []string {
	return slices.Clone(f.activities)
}

// RestrictionsFor returns, per activity, the latest effective restriction
// whose date is not after date, or None before the first entry.
func (f *Fixed) RestrictionsFor(date time.Time) map[string]restriction.Restriction {
	out := make(map[string]restriction.Restriction, len(f.activities))
	for _, act := range f.activities {
		if r, ok := f.effective[act].At(date); ok {
			out[act] = r.Clone()
		} else {
			out[act] = restriction.None()
		}
	}
	return out
}

// Calendar returns the effective entries per activity, for serialization and
// comparison in tests.
func (f *Fixed) Calendar() map[string][]calendar.Entry[restriction.Restriction] {
	out := make(map[string][]calendar.Entry[restriction.Restriction], len(f.activities))
	for _, act := range f.activities {
		out[act] = f.effective[act].Entries()
	}
	return out
}
