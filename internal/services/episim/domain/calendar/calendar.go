// Package calendar maps simulated day indices to calendar dates and stores
// sparse date-keyed values.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the textual date format used by scenario files.
const DateLayout = "2006-01-02"

// Calendar maps a zero-based simulated day index to a date. Day 0 is Start.
type Calendar struct {
	Start time.Time
}

// New returns a calendar starting at start, normalized to midnight UTC.
func New(start time.Time) Calendar {
	return Calendar{Start: Normalize(start)}
}

// Date returns the calendar date of a simulated day.
func (c Calendar) Date(day int) time.Time {
	return c.Start.AddDate(0, 0, day)
}

// DayOf returns the simulated day index of date. Dates before Start yield
// negative indices.
func (c Calendar) DayOf(date time.Time) int {
	d := Normalize(date).Sub(c.Start)
	return int(d.Round(time.Hour).Hours()) / 24
}

// Normalize strips the time of day and location from t.
func Normalize(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Day builds a normalized date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Parse parses a date in DateLayout.
func Parse(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(value string) time.Time {
	t, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return t
}
