package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/infection"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/progression"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/seeding"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/vaccination"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/mobility"
)

var start = calendar.Day(2020, 2, 24)

const population = 300

type collector struct {
	snapshots []report.Snapshot
}

func (c *collector) Publish(s report.Snapshot) error {
	c.snapshots = append(c.snapshots, s.Clone())
	return nil
}

func newRegistry(t *testing.T, n int) *person.Registry {
	t.Helper()
	persons := make([]*person.Person, n)
	for i := range persons {
		p := person.New(fmt.Sprintf("p%04d", i), (i*7)%95)
		p.Household = fmt.Sprintf("h%d", i/3)
		p.District = []string{"north", "south"}[i%2]
		persons[i] = p
	}
	reg, err := person.NewRegistry(persons)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// town is one repeated day of household and workplace co-presence.
func town(n int) mobility.Memory {
	var d mobility.Day
	for h := 0; h*3 < n; h++ {
		c := mobility.Container{ID: fmt.Sprintf("home-%d", h), Activity: "home", Spaces: 1}
		for i := h * 3; i < h*3+3 && i < n; i++ {
			c.Visits = append(c.Visits, mobility.Visit{Person: fmt.Sprintf("p%04d", i), Enter: 18 * 3600, Exit: 31 * 3600})
		}
		d.Containers = append(d.Containers, c)
	}
	for w := 0; w < 10; w++ {
		c := mobility.Container{ID: fmt.Sprintf("work-%d", w), Activity: "work", Spaces: 30}
		for i := w; i < n; i += 10 {
			enter := float64(8*3600 + (i%3)*1800)
			c.Visits = append(c.Visits, mobility.Visit{Person: fmt.Sprintf("p%04d", i), Enter: enter, Exit: 16 * 3600})
		}
		d.Containers = append(d.Containers, c)
	}
	return mobility.Memory{Days: []mobility.Day{d}}
}

type fixture struct {
	engine  *Engine
	reg     *person.Registry
	reports *collector
	store   *checkpoint.Memory
}

func newFixture(t *testing.T, seed int64, workers int) fixture {
	t.Helper()
	src := random.New(seed)
	reg := newRegistry(t, population)
	strains, err := strain.NewSet()
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	vacc, err := vaccination.New(vaccination.Config{
		Capacity: calendar.NewSeries(start.AddDate(0, 0, 10), 4),
		MinAge:   18,
	}, src, nil)
	if err != nil {
		t.Fatalf("vaccination.New: %v", err)
	}
	inf, err := infection.NewModel(infection.Config{
		Activities: []infection.ActivityParams{
			{Name: "home", ContactIntensity: 1, Home: true},
			{Name: "work", ContactIntensity: 1},
		},
		Calibration:           2e-5,
		ReinfectionProtection: 0.8,
		MinContactDuration:    900,
		TrackContacts:         true,
		Workers:               workers,
	}, src, strains, vacc)
	if err != nil {
		t.Fatalf("infection.NewModel: %v", err)
	}
	prog, err := progression.NewModel(progression.DefaultTable(), src, strains, progression.Options{})
	if err != nil {
		t.Fatalf("progression.NewModel: %v", err)
	}
	tcfg := tracing.DefaultConfig()
	tcfg.Delay = 2
	tcfg.Probability = calendar.NewSeries(start, 0.7)
	tcfg.Capacity = calendar.NewSeries(start, 3)
	tcfg.EquipmentRate = 0.8
	tcfg.QuarantineDays = 10
	tr, err := tracing.NewModel(tcfg, src)
	if err != nil {
		t.Fatalf("tracing.NewModel: %v", err)
	}
	seed0, err := seeding.NewHandler(seeding.Config{Initial: map[string]int{"": 4}}, src, strains, nil)
	if err != nil {
		t.Fatalf("seeding.NewHandler: %v", err)
	}
	adaptive, err := policy.NewAdaptive(policy.AdaptiveConfig{
		StartDate:       start,
		RestrictAt:      2000,
		OpenAt:          500,
		ConsecutiveDays: 2,
		Population:      population,
		Restricted:      map[string]restriction.Restriction{"work": restriction.OfCiCorrection(0.3)},
		Base:            policy.Static{"home", "work"},
	})
	if err != nil {
		t.Fatalf("NewAdaptive: %v", err)
	}
	vacc.AssignCompliance(reg)
	tr.AssignEquipment(reg)

	reports := &collector{}
	store := checkpoint.NewMemory()
	e, err := New(Config{RunID: "run-1", Seed: seed, Start: start}, Deps{
		Registry:    reg,
		Policy:      adaptive,
		Infection:   inf,
		Progression: prog,
		Vaccination: vacc,
		Tracing:     tr,
		Seeding:     seed0,
		Reports:     reports,
		Checkpoints: store,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return fixture{engine: e, reg: reg, reports: reports, store: store}
}

func TestRunIsDeterministic(t *testing.T) {
	a := newFixture(t, 42, 1)
	b := newFixture(t, 42, 8)
	ctx := context.Background()
	if err := a.engine.Run(ctx, town(population), 40); err != nil {
		t.Fatalf("run a: %v", err)
	}
	if err := b.engine.Run(ctx, town(population), 40); err != nil {
		t.Fatalf("run b: %v", err)
	}
	if !reflect.DeepEqual(a.reg.Snapshot(), b.reg.Snapshot()) {
		t.Fatal("same seed produced different person states")
	}
	if !reflect.DeepEqual(a.reports.snapshots, b.reports.snapshots) {
		t.Fatal("same seed produced different reports")
	}
	if a.engine.Totals().Infections <= 4 {
		t.Fatalf("total infections = %d, expected spread beyond the seeds", a.engine.Totals().Infections)
	}
}

func TestCheckpointRestoreMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	full := newFixture(t, 7, 4)
	if err := full.engine.Run(ctx, town(population), 35); err != nil {
		t.Fatalf("full run: %v", err)
	}

	first := newFixture(t, 7, 4)
	if err := first.engine.Run(ctx, town(population), 13); err != nil {
		t.Fatalf("first half: %v", err)
	}
	saved, err := first.store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if saved.Day != 13 {
		t.Fatalf("checkpoint day = %d, want 13", saved.Day)
	}

	resumed := newFixture(t, 7, 2)
	if err := resumed.store.Save(ctx, saved); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	ok, err := resumed.engine.Resume(ctx)
	if err != nil || !ok {
		t.Fatalf("resume = %v, %v", ok, err)
	}
	if err := resumed.engine.Run(ctx, town(population), 35); err != nil {
		t.Fatalf("second half: %v", err)
	}

	if !reflect.DeepEqual(full.reg.Snapshot(), resumed.reg.Snapshot()) {
		t.Fatal("resumed run diverged from the uninterrupted run")
	}
	if full.engine.Totals() != resumed.engine.Totals() {
		t.Fatalf("totals = %+v, want %+v", resumed.engine.Totals(), full.engine.Totals())
	}
	last := full.reports.snapshots[len(full.reports.snapshots)-1]
	got := resumed.reports.snapshots[len(resumed.reports.snapshots)-1]
	if !reflect.DeepEqual(last, got) {
		t.Fatalf("last report differs:\n got %+v\nwant %+v", got, last)
	}
}

func TestRestoreRejectsForeignSeed(t *testing.T) {
	f := newFixture(t, 1, 1)
	c, err := f.engine.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	c.Seed = 2
	if err := f.engine.Restore(c); err == nil {
		t.Fatal("expected seed mismatch error")
	}
}

func TestRunCheckpointsOnCancel(t *testing.T) {
	f := newFixture(t, 3, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.engine.Run(ctx, town(population), 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	c, err := f.store.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("checkpoint not saved: %v", err)
	}
	if c.Day != 0 {
		t.Fatalf("checkpoint day = %d, want 0", c.Day)
	}
}

func TestReportsAccountForEveryone(t *testing.T) {
	f := newFixture(t, 11, 2)
	if err := f.engine.Run(context.Background(), town(population), 20); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.reports.snapshots) != 20 {
		t.Fatalf("reports = %d, want 20", len(f.reports.snapshots))
	}
	for i, s := range f.reports.snapshots {
		if s.Day != i || !s.Date.Equal(start.AddDate(0, 0, i)) {
			t.Fatalf("report %d has day %d date %v", i, s.Day, s.Date)
		}
		total := 0
		for _, n := range s.Status {
			total += n
		}
		if total != population {
			t.Fatalf("day %d status counts sum to %d, want %d", i, total, population)
		}
	}
	if got := f.reports.snapshots[0].Imported; got != 4 {
		t.Fatalf("day 0 imported = %d, want 4", got)
	}
}

func TestStatusesFollowDiseaseModel(t *testing.T) {
	f := newFixture(t, 5, 2)
	source := town(population)
	prev := f.reg.Snapshot()
	for day := 0; day < 30; day++ {
		in, err := source.Day(context.Background(), day, start, nil)
		if err != nil {
			t.Fatalf("source: %v", err)
		}
		if _, err := f.engine.RunDay(context.Background(), in); err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
		next := f.reg.Snapshot()
		for i := range next {
			from, to := prev[i].Status, next[i].Status
			if from != to && !progression.Allowed(from, to) {
				t.Fatalf("day %d person %s moved %s -> %s", day, next[i].ID, from, to)
			}
		}
		prev = next
	}
}

func TestSinglePairEndToEnd(t *testing.T) {
	src := random.New(99)
	reg := newRegistry(t, 1000)
	strains, err := strain.NewSet()
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	prog, err := progression.NewModel(progression.DefaultTable(), src, strains, progression.Options{})
	if err != nil {
		t.Fatalf("progression.NewModel: %v", err)
	}
	carrier := reg.Get(0)
	carrier.Strain = strain.Wildtype
	carrier.InfectionCount = 1
	prog.Place(carrier, person.Contagious, 0)

	inf, err := infection.NewModel(infection.Config{
		Activities:  []infection.ActivityParams{{Name: "work", ContactIntensity: 1}},
		Calibration: 1,
	}, src, strains, nil)
	if err != nil {
		t.Fatalf("infection.NewModel: %v", err)
	}
	e, err := New(Config{Seed: 99, Start: start}, Deps{
		Registry:    reg,
		Policy:      policy.Static{"work"},
		Infection:   inf,
		Progression: prog,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap, err := e.RunDay(context.Background(), mobility.Day{Containers: []mobility.Container{{
		ID: "office", Activity: "work", Spaces: 1,
		Visits: []mobility.Visit{
			{Person: "p0000", Enter: 8 * 3600, Exit: 16 * 3600},
			{Person: "p0001", Enter: 8 * 3600, Exit: 16 * 3600},
		},
	}}})
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if snap.NewInfections > 1 {
		t.Fatalf("new infections = %d, want at most 1", snap.NewInfections)
	}
	if snap.NewInfections == 1 {
		if got := reg.Get(1).Status; got != person.InfectedButNotContagious {
			t.Fatalf("infected status = %s, want infectedButNotContagious", got)
		}
		if reg.Get(1).Strain != strain.Wildtype || reg.Get(1).InfectionDay != 0 {
			t.Fatalf("infection not recorded: %+v", reg.Get(1))
		}
	}
	for i := 2; i < reg.Len(); i++ {
		if reg.Get(i).Status != person.Susceptible {
			t.Fatalf("unexposed person %d infected", i)
		}
	}
	if snap.Status["susceptible"]+snap.Status["infectedButNotContagious"]+snap.Status["contagious"] != 1000 {
		t.Fatalf("status counts = %v", snap.Status)
	}
}

func TestNewRequiresComponents(t *testing.T) {
	if _, err := New(Config{}, Deps{}); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("error = %v, want %v", err, ErrRegistryRequired)
	}
	reg := newRegistry(t, 3)
	if _, err := New(Config{}, Deps{Registry: reg}); !errors.Is(err, ErrModelRequired) {
		t.Fatalf("error = %v, want %v", err, ErrModelRequired)
	}
}
