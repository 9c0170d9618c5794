package person

import (
	"math"
	"sort"
)

// NoDay marks a day field that has never been set.
const NoDay = math.MinInt32

// Contact is one entry of a person's contact log.
type Contact struct {
	// Person is the registry index of the other person.
	Person int `json:"person"`
	// LastSeen is the end of the most recent shared interval, in seconds
	// since the start of day 0.
	LastSeen float64 `json:"last_seen"`
	// Duration is the cumulative shared time in seconds.
	Duration float64 `json:"duration"`
}

// Person is the mutable epidemic state of one agent.
type Person struct {
	ID        string `json:"id"`
	Age       int    `json:"age"`
	Household string `json:"household,omitempty"`
	District  string `json:"district,omitempty"`

	Status         DiseaseStatus `json:"status"`
	StatusDay      int           `json:"status_day"`
	NextStatus     DiseaseStatus `json:"next_status"`
	NextTransition int           `json:"next_transition"`
	Strain         string        `json:"strain,omitempty"`
	InfectionCount int           `json:"infection_count"`
	InfectionDay   int           `json:"infection_day"`

	Quarantine    QuarantineStatus `json:"quarantine"`
	QuarantineDay int              `json:"quarantine_day"`

	Vaccinable     bool              `json:"vaccinable"`
	Vaccination    VaccinationStatus `json:"vaccination"`
	VaccineType    string            `json:"vaccine_type,omitempty"`
	VaccinationDay int               `json:"vaccination_day"`
	Boosted        bool              `json:"boosted"`
	BoosterDay     int               `json:"booster_day"`

	// TraceEquipped marks persons whose contacts are recorded for tracing.
	TraceEquipped bool `json:"trace_equipped"`

	Contacts []Contact `json:"contacts,omitempty"`

	key uint64
}

// New returns a susceptible, unvaccinated person.
func New(id string, age int) *Person {
	return &Person{
		ID:             id,
		Age:            age,
		StatusDay:      NoDay,
		NextTransition: NoDay,
		InfectionDay:   NoDay,
		QuarantineDay:  NoDay,
		VaccinationDay: NoDay,
		BoosterDay:     NoDay,
		Vaccinable:     true,
		TraceEquipped:  true,
	}
}

// Key returns the stable entity key used to address this person's random
// draws. It depends only on the person id.
func (p *Person) Key() uint64 {
	return p.key
}

// DaysSinceStatus returns how many days the person has been in its status.
func (p *Person) DaysSinceStatus(day int) int {
	if p.StatusDay == NoDay {
		return 0
	}
	return day - p.StatusDay
}

// DaysSinceVaccination returns days since the latest dose, or -1 if none.
func (p *Person) DaysSinceVaccination(day int) int {
	last := p.VaccinationDay
	if p.Boosted && p.BoosterDay > last {
		last = p.BoosterDay
	}
	if last == NoDay {
		return -1
	}
	return day - last
}

// EverInfected reports whether the person has been infected in this run.
func (p *Person) EverInfected() bool {
	return p.InfectionCount > 0
}

// RecordContact merges a shared interval with other into the log.
func (p *Person) RecordContact(other int, end, duration float64) {
	if duration <= 0 {
		return
	}
	for i := range p.Contacts {
		c := &p.Contacts[i]
		if c.Person == other {
			c.Duration += duration
			if end > c.LastSeen {
				c.LastSeen = end
			}
			return
		}
	}
	p.Contacts = append(p.Contacts, Contact{Person: other, LastSeen: end, Duration: duration})
}

// ContactsSince returns log entries last seen at or after since, ordered by
// person index.
func (p *Person) ContactsSince(since float64) []Contact {
	out := make([]Contact, 0, len(p.Contacts))
	for _, c := range p.Contacts {
		if c.LastSeen >= since {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Person < out[j].Person })
	return out
}

// PruneContacts drops log entries last seen before since.
func (p *Person) PruneContacts(since float64) {
	kept := p.Contacts[:0]
	for _, c := range p.Contacts {
		if c.LastSeen >= since {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(p.Contacts); i++ {
		p.Contacts[i] = Contact{}
	}
	p.Contacts = kept
}

// clone returns a deep copy.
func (p *Person) clone() Person {
	c := *p
	if p.Contacts != nil {
		c.Contacts = append([]Contact(nil), p.Contacts...)
	}
	return c
}
