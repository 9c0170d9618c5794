package tracing

import (
	"testing"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = calendar.Day(2020, 3, 1)

func registry(t *testing.T, ids ...string) *person.Registry {
	t.Helper()
	persons := make([]*person.Person, len(ids))
	for i, id := range ids {
		persons[i] = person.New(id, 40)
	}
	reg, err := person.NewRegistry(persons)
	require.NoError(t, err)
	return reg
}

func newModel(t *testing.T, mutate func(*Config)) *Model {
	t.Helper()
	cfg := DefaultConfig()
	cfg.QuarantineHousehold = false
	cfg.QuarantineIndexCase = false
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewModel(cfg, random.New(1))
	require.NoError(t, err)
	return m
}

// run drives days [from, to] the way the engine does and returns the
// quarantine status of watched after each day.
func run(m *Model, reg *person.Registry, from, to int, triggers map[int][]int, watched int) []person.QuarantineStatus {
	cal := calendar.New(start)
	var out []person.QuarantineStatus
	for day := from; day <= to; day++ {
		for _, idx := range triggers[day] {
			m.Trigger(reg, idx, day, cal.Date(day))
		}
		plan := m.Step(reg, day, cal.Date(day), triggers[day], nil)
		Apply(reg, plan, day)
		out = append(out, reg.Get(watched).Quarantine)
	}
	return out
}

func TestDelayedQuarantine(t *testing.T) {
	reg := registry(t, "case", "contact")
	reg.Get(0).RecordContact(1, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) { c.Delay = 2 })
	got := run(m, reg, 6, 8, map[int][]int{6: {0}}, 1)
	assert.Equal(t, []person.QuarantineStatus{
		person.QuarantineNo,
		person.QuarantineNo,
		person.QuarantineAtHome,
	}, got)
	assert.Equal(t, 8, reg.Get(1).QuarantineDay)
	assert.Equal(t, 1, m.Counters().Traced)
}

func TestImmediateQuarantine(t *testing.T) {
	reg := registry(t, "case", "contact")
	reg.Get(0).RecordContact(1, 5*24*3600, 1800)

	m := newModel(t, nil)
	got := run(m, reg, 6, 6, map[int][]int{6: {0}}, 1)
	assert.Equal(t, []person.QuarantineStatus{person.QuarantineAtHome}, got)
}

func TestLookbackAndDuration(t *testing.T) {
	reg := registry(t, "case", "old", "short", "recent")
	reg.Get(0).RecordContact(1, 1*24*3600, 3600)
	reg.Get(0).RecordContact(2, 5*24*3600, 60)
	reg.Get(0).RecordContact(3, 5*24*3600, 3600)

	m := newModel(t, func(c *Config) { c.MinDuration = 900 })
	run(m, reg, 6, 6, map[int][]int{6: {0}}, 0)
	assert.Equal(t, person.QuarantineNo, reg.Get(1).Quarantine)
	assert.Equal(t, person.QuarantineNo, reg.Get(2).Quarantine)
	assert.Equal(t, person.QuarantineAtHome, reg.Get(3).Quarantine)
}

func TestEnableDay(t *testing.T) {
	reg := registry(t, "case", "contact")
	reg.Get(0).RecordContact(1, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) { c.EnableDay = 10 })
	run(m, reg, 6, 6, map[int][]int{6: {0}}, 1)
	assert.Equal(t, person.QuarantineNo, reg.Get(1).Quarantine)
	assert.Equal(t, 0, m.Counters().Triggers)
}

func TestCapacityPerPerson(t *testing.T) {
	reg := registry(t, "a", "b", "ca", "cb")
	reg.Get(0).RecordContact(2, 5*24*3600, 1800)
	reg.Get(1).RecordContact(3, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) {
		c.Capacity = calendar.NewSeries(start, 1)
	})
	run(m, reg, 6, 6, map[int][]int{6: {0, 1}}, 0)
	assert.Equal(t, person.QuarantineAtHome, reg.Get(2).Quarantine)
	assert.Equal(t, person.QuarantineNo, reg.Get(3).Quarantine)
	assert.Equal(t, 1, m.Counters().Dropped)
	assert.Empty(t, m.State().Queue, "dropped contacts are not requeued")
}

func TestCapacityPerContact(t *testing.T) {
	reg := registry(t, "a", "x", "y")
	reg.Get(0).RecordContact(1, 5*24*3600, 1800)
	reg.Get(0).RecordContact(2, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) {
		c.CapacityType = CapacityPerContact
		c.Capacity = calendar.NewSeries(start, 1)
	})
	run(m, reg, 6, 6, map[int][]int{6: {0}}, 0)
	assert.Equal(t, person.QuarantineAtHome, reg.Get(1).Quarantine)
	assert.Equal(t, person.QuarantineNo, reg.Get(2).Quarantine)
	assert.Equal(t, 1, m.Counters().Dropped)
}

func TestHouseholdBypassesCapacity(t *testing.T) {
	persons := []*person.Person{person.New("a", 40), person.New("b", 12), person.New("c", 30)}
	persons[0].Household = "h1"
	persons[1].Household = "h1"
	persons[0].TraceEquipped = false
	reg, err := person.NewRegistry(persons)
	require.NoError(t, err)
	reg.Get(0).RecordContact(2, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) {
		c.QuarantineHousehold = true
		c.QuarantineIndexCase = true
		c.Capacity = calendar.NewSeries(start, 0)
		c.Delay = 1
	})
	run(m, reg, 6, 7, map[int][]int{6: {0}}, 0)
	assert.Equal(t, person.QuarantineAtHome, reg.Get(0).Quarantine)
	assert.Equal(t, 6, reg.Get(0).QuarantineDay)
	assert.Equal(t, person.QuarantineAtHome, reg.Get(1).Quarantine)
	assert.Equal(t, 7, reg.Get(1).QuarantineDay)
	assert.Equal(t, person.QuarantineNo, reg.Get(2).Quarantine, "contacts of unequipped persons are unknown")
	assert.Equal(t, 1, m.Counters().Household)
}

func TestRelease(t *testing.T) {
	reg := registry(t, "a", "b")
	for _, p := range reg.All() {
		p.Quarantine = person.QuarantineAtHome
		p.QuarantineDay = 0
	}
	reg.Get(1).Status = person.ShowingSymptoms

	m := newModel(t, func(c *Config) {
		c.QuarantineDays = 3
		c.QuarantineDaysByStatus = map[person.DiseaseStatus]int{person.ShowingSymptoms: 5}
	})
	got := run(m, reg, 1, 5, nil, 0)
	assert.Equal(t, []person.QuarantineStatus{
		person.QuarantineAtHome, person.QuarantineAtHome,
		person.QuarantineNo, person.QuarantineNo, person.QuarantineNo,
	}, got)
	assert.Equal(t, person.QuarantineNo, reg.Get(1).Quarantine)
	assert.Equal(t, 2, m.Counters().Released)
}

func TestTestResults(t *testing.T) {
	reg := registry(t, "pos", "neg")
	reg.Get(1).Quarantine = person.QuarantineAtHome
	reg.Get(1).QuarantineDay = 2

	m := newModel(t, nil)
	plan := m.Step(reg, 3, start, nil, []TestResult{{Person: 0, Positive: true}, {Person: 1}})
	Apply(reg, plan, 3)
	assert.Equal(t, person.QuarantineAtHomeTested, reg.Get(0).Quarantine)
	assert.Equal(t, person.QuarantineNo, reg.Get(1).Quarantine)
}

func TestStateRoundTrip(t *testing.T) {
	reg := registry(t, "case", "contact")
	reg.Get(0).RecordContact(1, 5*24*3600, 1800)

	m := newModel(t, func(c *Config) { c.Delay = 3 })
	m.Trigger(reg, 0, 6, start)
	state := m.State()
	require.Len(t, state.Queue, 1)

	other := newModel(t, func(c *Config) { c.Delay = 3 })
	other.Restore(state)
	plan := other.Step(reg, 9, start, nil, nil)
	assert.Equal(t, []Assignment{{Person: 1, Status: person.QuarantineAtHome}}, plan.Quarantine)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"negative delay":    func(c *Config) { c.Delay = -1 },
		"equipment rate":    func(c *Config) { c.EquipmentRate = 1.5 },
		"probability":       func(c *Config) { c.Probability = calendar.NewSeries(start, 2.0) },
		"capacity":          func(c *Config) { c.Capacity = calendar.NewSeries(start, -1) },
		"capacity type":     func(c *Config) { c.CapacityType = "perDay" },
		"susceptible start": func(c *Config) { c.TriggerStatus = person.Susceptible },
		"infection start":   func(c *Config) { c.TriggerStatus = person.InfectedButNotContagious },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := NewModel(cfg, random.New(1))
			assert.Error(t, err)
		})
	}
}
