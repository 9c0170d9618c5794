package person

import (
	"errors"
	"fmt"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
)

// ErrDuplicateID indicates two persons share an id.
var ErrDuplicateID = errors.New("duplicate person id")

// ErrEmptyID indicates a person without an id.
var ErrEmptyID = errors.New("person id is required")

// Registry owns all persons of a run. Components address persons by their
// registry index, which is fixed at construction.
type Registry struct {
	persons    []*Person
	byID       map[string]int
	households map[string][]int
}

// NewRegistry indexes persons in the order given.
func NewRegistry(persons []*Person) (*Registry, error) {
	r := &Registry{
		persons:    persons,
		byID:       make(map[string]int, len(persons)),
		households: make(map[string][]int),
	}
	for i, p := range persons {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("person %d: %w", i, ErrEmptyID)
		}
		if _, ok := r.byID[p.ID]; ok {
			return nil, fmt.Errorf("person %q: %w", p.ID, ErrDuplicateID)
		}
		r.byID[p.ID] = i
		p.key = random.StringEntity(p.ID)
		if p.Household != "" {
			r.households[p.Household] = append(r.households[p.Household], i)
		}
	}
	return r, nil
}

// Len returns the number of persons.
func (r *Registry) Len() int {
	return len(r.persons)
}

// Get returns the person at index i.
func (r *Registry) Get(i int) *Person {
	return r.persons[i]
}

// Index returns the registry index of the person with id.
func (r *Registry) Index(id string) (int, bool) {
	i, ok := r.byID[id]
	return i, ok
}

// ByID returns the person with id.
func (r *Registry) ByID(id string) (*Person, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.persons[i], true
}

// All returns the persons in index order. Callers must not reorder it.
func (r *Registry) All() []*Person {
	return r.persons
}

// Household returns the indices of the other members of i's household.
func (r *Registry) Household(i int) []int {
	p := r.persons[i]
	if p.Household == "" {
		return nil
	}
	members := r.households[p.Household]
	out := make([]int, 0, len(members))
	for _, m := range members {
		if m != i {
			out = append(out, m)
		}
	}
	return out
}

// Validate checks the status/strain invariant of every person.
func (r *Registry) Validate() error {
	for _, p := range r.persons {
		if err := validatePerson(p); err != nil {
			return err
		}
	}
	return nil
}

func validatePerson(p *Person) error {
	switch {
	case !p.EverInfected() && p.Status != Susceptible:
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, "never infected person is not susceptible",
			map[string]string{"person": p.ID, "status": p.Status.String()})
	case !p.EverInfected() && p.Strain != "":
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, "never infected person carries a strain",
			map[string]string{"person": p.ID, "strain": p.Strain})
	case p.EverInfected() && p.Strain == "":
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, "infected person has no strain",
			map[string]string{"person": p.ID, "status": p.Status.String()})
	}
	return nil
}

// Snapshot returns a deep copy of every person's state.
func (r *Registry) Snapshot() []Person {
	out := make([]Person, len(r.persons))
	for i, p := range r.persons {
		out[i] = p.clone()
	}
	return out
}

// Restore overwrites the registry state with a snapshot taken from a
// registry over the same population.
func (r *Registry) Restore(states []Person) error {
	if len(states) != len(r.persons) {
		return apperrors.Newf(apperrors.CodeCheckpointMismatch, "snapshot has %d persons, registry has %d", len(states), len(r.persons))
	}
	for i, s := range states {
		if s.ID != r.persons[i].ID {
			return apperrors.WithMetadata(apperrors.CodeCheckpointMismatch, "snapshot person order differs",
				map[string]string{"index": fmt.Sprint(i), "want": r.persons[i].ID, "got": s.ID})
		}
	}
	for i, s := range states {
		p := r.persons[i]
		key := p.key
		*p = s
		if s.Contacts != nil {
			p.Contacts = append([]Contact(nil), s.Contacts...)
		}
		p.key = key
	}
	return r.Validate()
}
