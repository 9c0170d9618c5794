package calendar

import (
	"sort"
	"time"
)

// Entry is one dated value of a Series.
type Entry[T any] struct {
	Date  time.Time
	Value T
}

// Series is a sparse calendar: a value set on a date stays in effect until the
// next dated value. Lookups return the most recent entry on or before the
// query date.
type Series[T any] struct {
	entries []Entry[T]
}

// NewSeries returns a series with a single value effective from date.
func NewSeries[T any](date time.Time, value T) *Series[T] {
	s := &Series[T]{}
	s.Put(date, value)
	return s
}

// Put sets the value effective from date, replacing an entry on the same date.
func (s *Series[T]) Put(date time.Time, value T) {
	date = Normalize(date)
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Date.Before(date) })
	if i < len(s.entries) && s.entries[i].Date.Equal(date) {
		s.entries[i].Value = value
		return
	}
	s.entries = append(s.entries, Entry[T]{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = Entry[T]{Date: date, Value: value}
}

// At returns the value of the latest entry whose date is not after date.
func (s *Series[T]) At(date time.Time) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	date = Normalize(date)
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Date.After(date) })
	if i == 0 {
		return zero, false
	}
	return s.entries[i-1].Value, true
}

// AtOr returns At(date), or fallback when no entry is in effect yet.
func (s *Series[T]) AtOr(date time.Time, fallback T) T {
	if v, ok := s.At(date); ok {
		return v
	}
	return fallback
}

// Exact returns the value stored on exactly date.
func (s *Series[T]) Exact(date time.Time) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	date = Normalize(date)
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Date.Before(date) })
	if i < len(s.entries) && s.entries[i].Date.Equal(date) {
		return s.entries[i].Value, true
	}
	return zero, false
}

// Entries returns a copy of the entries in date order.
func (s *Series[T]) Entries() []Entry[T] {
	if s == nil {
		return nil
	}
	out := make([]Entry[T], len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of dated entries.
func (s *Series[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}
