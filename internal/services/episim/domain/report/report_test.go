package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

func TestCount(t *testing.T) {
	a := person.New("a", 30)
	b := person.New("b", 40)
	b.Status = person.Contagious
	b.Strain = "alpha"
	b.Quarantine = person.QuarantineAtHome
	reg, err := person.NewRegistry([]*person.Person{a, b})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	var s Snapshot
	s.Count(reg)
	if s.Status["susceptible"] != 1 || s.Status["contagious"] != 1 || s.Status["recovered"] != 0 {
		t.Fatalf("status = %v", s.Status)
	}
	if _, ok := s.Status["critical"]; !ok {
		t.Fatal("all statuses must be present")
	}
	if s.Quarantine["atHome"] != 1 || s.InfectedByStrain["alpha"] != 1 {
		t.Fatalf("quarantine = %v, strains = %v", s.Quarantine, s.InfectedByStrain)
	}
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	days    []int
}

func (b *blockingSink) Write(_ context.Context, s Snapshot) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.days = append(b.days, s.Day)
	return nil
}

func TestDispatcherNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(sink, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for day := 0; day < 100; day++ {
			if err := d.Publish(Snapshot{Day: day}); err != nil {
				t.Errorf("Publish: %v", err)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a stalled sink")
	}

	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(sink.days) != 100 {
		t.Fatalf("delivered = %d, want 100", len(sink.days))
	}
	for i, day := range sink.days {
		if day != i {
			t.Fatalf("delivery order broken at %d: %d", i, day)
		}
	}
	if err := d.Publish(Snapshot{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestDispatcherCountsFailures(t *testing.T) {
	d := NewDispatcher(SinkFunc(func(context.Context, Snapshot) error {
		return errors.New("disk full")
	}), nil)
	for day := 0; day < 3; day++ {
		_ = d.Publish(Snapshot{Day: day})
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := d.Failed(); got != 3 {
		t.Fatalf("failed = %d, want 3", got)
	}
}

func TestPublishCopiesMaps(t *testing.T) {
	var got Snapshot
	d := NewDispatcher(SinkFunc(func(_ context.Context, s Snapshot) error {
		got = s
		return nil
	}), nil)
	s := Snapshot{NewInfectionsByStrain: map[string]int{"alpha": 1}}
	_ = d.Publish(s)
	s.NewInfectionsByStrain["alpha"] = 99
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.NewInfectionsByStrain["alpha"] != 1 {
		t.Fatalf("snapshot mutated after publish: %v", got.NewInfectionsByStrain)
	}
}

func TestTSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewTSVWriter(&buf)
	s := Snapshot{Day: 3, Date: calendar.Day(2020, 3, 4), NewInfections: 7}
	s.Status = map[string]int{"susceptible": 90, "contagious": 10}
	for i := 0; i < 2; i++ {
		if err := w.Write(context.Background(), s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2", len(lines))
	}
	header := strings.Split(lines[0], "\t")
	row := strings.Split(lines[1], "\t")
	if len(header) != len(row) {
		t.Fatalf("header has %d columns, row %d", len(header), len(row))
	}
	if header[2] != "nSusceptible" || row[2] != "90" || row[1] != "2020-03-04" {
		t.Fatalf("unexpected columns %v / %v", header[:3], row[:3])
	}
	for i, h := range header {
		if h == "newInfections" && row[i] != "7" {
			t.Fatalf("newInfections = %s, want 7", row[i])
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	calls := 0
	ok := SinkFunc(func(context.Context, Snapshot) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, Snapshot) error { calls++; return errors.New("boom") })
	if err := (Fanout{bad, ok}).Write(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
