package vaccination

import (
	"sort"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

// MaxAge is the oldest age cohort the age priority allocator visits.
const MaxAge = 130

// Allocator picks which eligible persons receive today's doses. It returns
// registry indices in allocation order and never more than available.
type Allocator interface {
	Allocate(reg *person.Registry, eligible []int, available int, day int, date time.Time) []int
}

// Demander is implemented by allocators that know how many doses a day
// calls for. Without a capacity calendar the model offers exactly that many.
type Demander interface {
	Demand(date time.Time) int
}

// ByAge vaccinates the oldest cohort first. Within an age the order is a
// keyed shuffle so no registry order bias leaks into the allocation.
type ByAge struct {
	Source random.Source
	MinAge int
}

// Allocate implements Allocator.
func (a ByAge) Allocate(reg *person.Registry, eligible []int, available int, day int, _ time.Time) []int {
	if available <= 0 || len(eligible) == 0 {
		return nil
	}
	cohorts := make(map[int][]int)
	for _, i := range eligible {
		age := reg.Get(i).Age
		if age > MaxAge {
			age = MaxAge
		}
		if age < a.MinAge {
			continue
		}
		cohorts[age] = append(cohorts[age], i)
	}
	chosen := make([]int, 0, min(available, len(eligible)))
	for age := MaxAge; age >= a.MinAge && len(chosen) < available; age-- {
		cohort := cohorts[age]
		if len(cohort) == 0 {
			continue
		}
		shuffle(reg, cohort, a.Source, day, uint64(age))
		take := min(available-len(chosen), len(cohort))
		chosen = append(chosen, cohort[:take]...)
	}
	return chosen
}

// AgeGroup is an inclusive age range.
type AgeGroup struct {
	Name string `yaml:"name"`
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
}

// FromData follows externally reported doses per age group and date. Days
// missing from the data administer nothing.
type FromData struct {
	Source random.Source
	Groups []AgeGroup
	// Counts maps a date to doses per group name.
	Counts map[time.Time]map[string]int
}

// Demand implements Demander: the total doses reported for date.
func (a FromData) Demand(date time.Time) int {
	total := 0
	for _, n := range a.Counts[date] {
		total += max(n, 0)
	}
	return total
}

// Allocate implements Allocator. Each group's reported count is drawn at
// random from its eligible members, capped by the overall availability.
// Without groups the day's total is drawn from every eligible person.
func (a FromData) Allocate(reg *person.Registry, eligible []int, available int, day int, date time.Time) []int {
	counts := a.Counts[date]
	if available <= 0 || len(counts) == 0 {
		return nil
	}
	if len(a.Groups) == 0 {
		members := append([]int(nil), eligible...)
		shuffle(reg, members, a.Source, day, 1<<32)
		return members[:min(a.Demand(date), len(members), available)]
	}
	var chosen []int
	for gi, g := range a.Groups {
		want := counts[g.Name]
		if want <= 0 {
			continue
		}
		var members []int
		for _, i := range eligible {
			age := reg.Get(i).Age
			if age >= g.Min && age <= g.Max {
				members = append(members, i)
			}
		}
		shuffle(reg, members, a.Source, day, uint64(gi)+1<<32)
		take := min(want, len(members), available-len(chosen))
		chosen = append(chosen, members[:take]...)
		if len(chosen) >= available {
			break
		}
	}
	return chosen
}

// shuffle orders idx by person key and then applies a keyed Fisher-Yates
// shuffle, making the result independent of registry order.
func shuffle(reg *person.Registry, idx []int, src random.Source, day int, entity uint64) {
	sort.Slice(idx, func(i, j int) bool { return reg.Get(idx[i]).Key() < reg.Get(idx[j]).Key() })
	r := src.Rand(day, entity, random.TagShuffle)
	r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
}
