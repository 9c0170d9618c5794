package person

import (
	"errors"
	"testing"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	a := New("a", 30)
	a.Household = "h1"
	b := New("b", 35)
	b.Household = "h1"
	c := New("c", 70)
	c.Household = "h2"
	r, err := NewRegistry([]*Person{a, b, c})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]*Person{New("a", 1), New("a", 2)})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("NewRegistry() error = %v, want %v", err, ErrDuplicateID)
	}
	_, err = NewRegistry([]*Person{New("", 1)})
	if !errors.Is(err, ErrEmptyID) {
		t.Fatalf("NewRegistry() error = %v, want %v", err, ErrEmptyID)
	}
}

func TestRegistryHousehold(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Household(0)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("Household(0) = %v, want [1]", got)
	}
	if got := r.Household(2); len(got) != 0 {
		t.Fatalf("Household(2) = %v, want none", got)
	}
}

func TestKeyDependsOnlyOnID(t *testing.T) {
	r1, _ := NewRegistry([]*Person{New("x", 1), New("y", 2)})
	r2, _ := NewRegistry([]*Person{New("y", 2), New("x", 1)})
	x1, _ := r1.ByID("x")
	x2, _ := r2.ByID("x")
	if x1.Key() != x2.Key() {
		t.Fatalf("Key differs across registry orders: %d vs %d", x1.Key(), x2.Key())
	}
}

func TestValidateStrainInvariant(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	p := r.Get(0)
	p.Status = Contagious
	if err := r.Validate(); !apperrors.IsCode(err, apperrors.CodeInvariantViolation) {
		t.Fatalf("Validate() error = %v, want INVARIANT_VIOLATION", err)
	}
	p.InfectionCount = 1
	p.Strain = "wild"
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	// recovered-then-susceptible keeps the strain
	p.Status = Susceptible
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() after waning error = %v", err)
	}
}

func TestRecordContactMergesAndPrunes(t *testing.T) {
	p := New("a", 30)
	p.RecordContact(2, 100, 50)
	p.RecordContact(2, 300, 20)
	p.RecordContact(1, 200, 10)
	p.RecordContact(3, 250, 0)

	got := p.ContactsSince(0)
	if len(got) != 2 {
		t.Fatalf("ContactsSince(0) = %v, want 2 entries", got)
	}
	if got[0].Person != 1 || got[1].Person != 2 {
		t.Fatalf("ContactsSince order = %v, want persons 1 then 2", got)
	}
	if got[1].Duration != 70 || got[1].LastSeen != 300 {
		t.Fatalf("merged contact = %+v, want duration 70 last seen 300", got[1])
	}

	p.PruneContacts(250)
	if len(p.Contacts) != 1 || p.Contacts[0].Person != 2 {
		t.Fatalf("after prune = %v, want only person 2", p.Contacts)
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := newTestRegistry(t)
	r.Get(1).RecordContact(0, 10, 10)
	snap := r.Snapshot()

	r.Get(1).Quarantine = QuarantineAtHome
	r.Get(1).Contacts = nil

	if err := r.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := r.Get(1).Quarantine; got != QuarantineNo {
		t.Fatalf("Quarantine = %v, want %v", got, QuarantineNo)
	}
	if len(r.Get(1).Contacts) != 1 {
		t.Fatalf("Contacts = %v, want restored entry", r.Get(1).Contacts)
	}

	other, _ := NewRegistry([]*Person{New("z", 1), New("b", 1), New("c", 1)})
	if err := other.Restore(snap); !apperrors.IsCode(err, apperrors.CodeCheckpointMismatch) {
		t.Fatalf("Restore() into other population error = %v, want CHECKPOINT_MISMATCH", err)
	}
}

func TestStatusNames(t *testing.T) {
	for _, s := range DiseaseStatuses {
		got, err := ParseDiseaseStatus(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseDiseaseStatus(%q) = (%v, %v), want %v", s.String(), got, err, s)
		}
	}
	if !ShowingSymptoms.Infectious() || InfectedButNotContagious.Infectious() {
		t.Fatal("Infectious() classification wrong")
	}
	if !Critical.Hospitalized() || ShowingSymptoms.Hospitalized() {
		t.Fatal("Hospitalized() classification wrong")
	}
}
