// Package seeding injects initial and imported infections.
package seeding

import (
	"cmp"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
)

// Config describes where infections enter the population.
type Config struct {
	// Initial maps a district to the number of persons infected on day 0.
	// The empty district selects from the whole population.
	Initial map[string]int
	// InitialStrain is the strain of initial infections.
	InitialStrain string
	// Imports maps a strain to its daily import count calendar.
	Imports map[string]*calendar.Series[int]
	// MinAge and MaxAge bound candidate ages inclusively. Zero or negative
	// values disable a bound.
	MinAge int
	MaxAge int
}

// Infection is a planned seeding of one person.
type Infection struct {
	Person int
	Strain string
}

// Handler plans seeded infections for a day.
type Handler struct {
	cfg     Config
	src     random.Source
	strains *strain.Set
	logger  *log.Logger
}

// NewHandler validates cfg against the known strains.
func NewHandler(cfg Config, src random.Source, strains *strain.Set, logger *log.Logger) (*Handler, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.InitialStrain == "" {
		cfg.InitialStrain = strain.Wildtype
	}
	if _, ok := strains.Get(cfg.InitialStrain); !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown initial strain", map[string]string{"strain": cfg.InitialStrain})
	}
	for district, n := range cfg.Initial {
		if n < 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "initial infections must be non-negative", map[string]string{"district": district})
		}
	}
	for name, series := range cfg.Imports {
		if _, ok := strains.Get(name); !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown import strain", map[string]string{"strain": name})
		}
		for _, e := range series.Entries() {
			if e.Value < 0 {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "imports must be non-negative",
					map[string]string{"strain": name, "date": e.Date.Format(calendar.DateLayout)})
			}
		}
	}
	if cfg.MinAge > 0 && cfg.MaxAge > 0 && cfg.MinAge > cfg.MaxAge {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, fmt.Sprintf("age bounds inverted: %d > %d", cfg.MinAge, cfg.MaxAge))
	}
	return &Handler{cfg: cfg, src: src, strains: strains, logger: logger}, nil
}

// Plan returns the persons to infect on day. Initial infections happen on
// day 0; imports follow the per-strain calendars. Candidates are susceptible
// persons within the age bounds. When a district or strain has fewer
// candidates than required, the whole population is used instead and a
// warning is logged.
func (h *Handler) Plan(day int, date time.Time, reg *person.Registry) []Infection {
	var out []Infection
	taken := make(map[int]bool)

	if day == 0 {
		districts := make([]string, 0, len(h.cfg.Initial))
		for d := range h.cfg.Initial {
			districts = append(districts, d)
		}
		slices.Sort(districts)
		for _, d := range districts {
			out = h.pick(out, taken, reg, day, h.cfg.Initial[d], h.cfg.InitialStrain, d, random.TagSeeding)
		}
	}

	names := make([]string, 0, len(h.cfg.Imports))
	for name := range h.cfg.Imports {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		n := h.cfg.Imports[name].AtOr(date, 0)
		out = h.pick(out, taken, reg, day, n, name, "", random.TagImport)
	}
	return out
}

func (h *Handler) pick(out []Infection, taken map[int]bool, reg *person.Registry, day, n int, strainName, district string, tag random.Tag) []Infection {
	if n <= 0 {
		return out
	}
	var candidates []int
	for i, p := range reg.All() {
		if h.eligible(p, district) && !taken[i] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) < n {
		h.logger.Printf("warning: only %d of %d persons match seeding for %q (district %q), using whole population", len(candidates), n, strainName, district)
		candidates = candidates[:0]
		for i := range reg.All() {
			candidates = append(candidates, i)
		}
	}

	slices.SortFunc(candidates, func(a, b int) int {
		return cmp.Compare(reg.Get(a).Key(), reg.Get(b).Key())
	})
	r := h.src.Rand(day, random.StringEntity(strainName+"/"+district), tag)
	r.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, idx := range candidates {
		if n == 0 {
			break
		}
		if taken[idx] || reg.Get(idx).Status != person.Susceptible {
			continue
		}
		taken[idx] = true
		out = append(out, Infection{Person: idx, Strain: strainName})
		n--
	}
	return out
}

func (h *Handler) eligible(p *person.Person, district string) bool {
	if p.Status != person.Susceptible {
		return false
	}
	if district != "" && p.District != district {
		return false
	}
	if h.cfg.MinAge > 0 && p.Age < h.cfg.MinAge {
		return false
	}
	if h.cfg.MaxAge > 0 && p.Age > h.cfg.MaxAge {
		return false
	}
	return true
}
