package tracing

import (
	"sort"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

const secondsPerDay = 24 * 3600

// Pending is a queued quarantine waiting for its due day.
type Pending struct {
	Source    int  `json:"source"`
	Contact   int  `json:"contact"`
	Trigger   int  `json:"trigger"`
	Due       int  `json:"due"`
	Household bool `json:"household"`
}

// Counters are cumulative tracing statistics.
type Counters struct {
	Triggers  int `json:"triggers"`
	Queued    int `json:"queued"`
	Traced    int `json:"traced"`
	Household int `json:"household"`
	// Dropped counts contacts lost to capacity starvation. They are not requeued.
	Dropped  int `json:"dropped"`
	Released int `json:"released"`
}

// State is the checkpointable part of a Model.
type State struct {
	Queue    []Pending `json:"queue"`
	Counters Counters  `json:"counters"`
}

// Assignment sets a person's quarantine status.
type Assignment struct {
	Person int
	Status person.QuarantineStatus
}

// Plan is the tracing outcome of one day.
type Plan struct {
	Quarantine []Assignment
	Release    []int
}

// TestResult is a test outcome for a registry index.
type TestResult struct {
	Person   int
	Positive bool
}

// Model queues contacts on triggers and releases them when due.
type Model struct {
	cfg   Config
	src   random.Source
	state State
}

// NewModel validates cfg.
func NewModel(cfg Config, src random.Source) (*Model, error) {
	if cfg.CapacityType == "" {
		cfg.CapacityType = CapacityPerPerson
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, src: src}, nil
}

// TriggerStatus returns the disease status that starts tracing.
func (m *Model) TriggerStatus() person.DiseaseStatus {
	return m.cfg.TriggerStatus
}

// AssignEquipment marks the share of persons whose contacts get recorded.
func (m *Model) AssignEquipment(reg *person.Registry) {
	for _, p := range reg.All() {
		p.TraceEquipped = m.src.Bernoulli(0, p.Key(), random.TagTracingEquipment, m.cfg.EquipmentRate)
	}
}

// Trigger queues the contacts of source, a case detected on day. Contacts
// are taken from the pre-day log within the lookback window and each passes
// the tracing probability independently. Household members always pass.
func (m *Model) Trigger(reg *person.Registry, source int, day int, date time.Time) {
	if day < m.cfg.EnableDay {
		return
	}
	m.state.Counters.Triggers++
	due := day + m.cfg.Delay
	p := reg.Get(source)

	queued := make(map[int]bool)
	if m.cfg.QuarantineHousehold {
		for _, member := range reg.Household(source) {
			queued[member] = true
			m.state.Queue = append(m.state.Queue, Pending{Source: source, Contact: member, Trigger: day, Due: due, Household: true})
		}
	}
	if !p.TraceEquipped {
		return
	}
	prob := m.cfg.Probability.AtOr(date, 1)
	since := float64(day-m.cfg.Lookback) * secondsPerDay
	for _, c := range p.ContactsSince(since) {
		if queued[c.Person] || c.Duration < m.cfg.MinDuration {
			continue
		}
		other := reg.Get(c.Person)
		if !m.src.Bernoulli(day, p.Key()^other.Key(), random.TagTracing, prob) {
			continue
		}
		queued[c.Person] = true
		m.state.Queue = append(m.state.Queue, Pending{Source: source, Contact: c.Person, Trigger: day, Due: due})
	}
}

// Step computes the day's quarantine changes from the pre-day state: due
// queue entries within capacity, index case isolation, test results and
// releases. Triggers for the day must be recorded before Step.
func (m *Model) Step(reg *person.Registry, day int, date time.Time, triggered []int, tests []TestResult) Plan {
	var plan Plan
	assigned := make(map[int]bool)
	assign := func(idx int, status person.QuarantineStatus) {
		if assigned[idx] {
			return
		}
		assigned[idx] = true
		plan.Quarantine = append(plan.Quarantine, Assignment{Person: idx, Status: status})
	}

	for _, t := range tests {
		if t.Positive {
			assign(t.Person, person.QuarantineAtHomeTested)
		}
	}
	if m.cfg.QuarantineIndexCase && day >= m.cfg.EnableDay {
		for _, idx := range triggered {
			if reg.Get(idx).Quarantine == person.QuarantineNo {
				assign(idx, person.QuarantineAtHome)
			}
		}
	}

	status := m.cfg.QuarantineStatus.AtOr(date, person.QuarantineAtHome)
	due, rest := m.split(day)
	m.state.Queue = rest

	capacity, limited := m.cfg.Capacity.At(date)
	usedSources := make(map[int]bool)
	used := 0
	for _, pd := range due {
		contact := reg.Get(pd.Contact)
		if contact.Quarantine != person.QuarantineNo || contact.Status.Hospitalized() || assigned[pd.Contact] {
			continue
		}
		if pd.Household {
			m.state.Counters.Household++
			assign(pd.Contact, status)
			continue
		}
		if !m.cfg.TraceSusceptible && contact.Status == person.Susceptible {
			continue
		}
		if limited {
			switch m.cfg.CapacityType {
			case CapacityPerContact:
				if used >= capacity {
					m.state.Counters.Dropped++
					continue
				}
				used++
			default:
				if !usedSources[pd.Source] {
					if used >= capacity {
						m.state.Counters.Dropped++
						continue
					}
					usedSources[pd.Source] = true
					used++
				}
			}
		}
		m.state.Counters.Traced++
		assign(pd.Contact, status)
	}

	released := make(map[int]bool)
	for _, t := range tests {
		if !t.Positive && reg.Get(t.Person).Quarantine != person.QuarantineNo && !assigned[t.Person] {
			released[t.Person] = true
		}
	}
	for i, p := range reg.All() {
		if p.Quarantine == person.QuarantineNo || p.QuarantineDay == person.NoDay || assigned[i] {
			continue
		}
		days := m.cfg.QuarantineDays
		if d, ok := m.cfg.QuarantineDaysByStatus[p.Status]; ok {
			days = d
		}
		if day-p.QuarantineDay >= days {
			released[i] = true
		}
	}
	for i := range released {
		plan.Release = append(plan.Release, i)
	}
	sort.Ints(plan.Release)
	m.state.Counters.Released += len(plan.Release)
	return plan
}

// split removes entries due on or before day from the queue, oldest first.
func (m *Model) split(day int) (due, rest []Pending) {
	for _, pd := range m.state.Queue {
		if pd.Due <= day {
			due = append(due, pd)
		} else {
			rest = append(rest, pd)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Trigger != b.Trigger {
			return a.Trigger < b.Trigger
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Contact < b.Contact
	})
	m.state.Counters.Queued = len(rest)
	return due, rest
}

// Apply writes a plan into the registry.
func Apply(reg *person.Registry, plan Plan, day int) {
	for _, a := range plan.Quarantine {
		p := reg.Get(a.Person)
		p.Quarantine = a.Status
		p.QuarantineDay = day
	}
	for _, i := range plan.Release {
		p := reg.Get(i)
		p.Quarantine = person.QuarantineNo
		p.QuarantineDay = person.NoDay
	}
}

// Lookback returns the traced contact history in days.
func (m *Model) Lookback() int {
	return m.cfg.Lookback
}

// TraceOnPositiveTest reports whether positive tests start tracing.
func (m *Model) TraceOnPositiveTest() bool {
	return m.cfg.TraceOnPositiveTest
}

// Counters returns the cumulative counters.
func (m *Model) Counters() Counters {
	return m.state.Counters
}

// State returns a copy of the checkpointable state.
func (m *Model) State() State {
	return State{Queue: append([]Pending(nil), m.state.Queue...), Counters: m.state.Counters}
}

// Restore replaces the model state.
func (m *Model) Restore(s State) {
	m.state = State{Queue: append([]Pending(nil), s.Queue...), Counters: s.Counters}
}
