package calendar

import (
	"testing"
	"time"
)

func TestCalendarDateAndDayOfRoundTrip(t *testing.T) {
	cal := New(time.Date(2020, time.February, 27, 13, 30, 0, 0, time.Local))
	for _, day := range []int{0, 1, 2, 3, 40, 365} {
		date := cal.Date(day)
		if got := cal.DayOf(date); got != day {
			t.Fatalf("DayOf(Date(%d)) = %d, want %d", day, got, day)
		}
	}
	if got := cal.Date(3); !got.Equal(Day(2020, time.March, 1)) {
		t.Fatalf("Date(3) = %v, want 2020-03-01 across leap day", got)
	}
	if got := cal.DayOf(Day(2020, time.February, 26)); got != -1 {
		t.Fatalf("DayOf(day before start) = %d, want -1", got)
	}
}

func TestSeriesMostRecentEntry(t *testing.T) {
	s := &Series[int]{}
	s.Put(Day(2020, time.March, 10), 10)
	s.Put(Day(2020, time.March, 1), 1)
	s.Put(Day(2020, time.March, 20), 20)

	tests := []struct {
		date   time.Time
		want   int
		wantOK bool
	}{
		{Day(2020, time.February, 28), 0, false},
		{Day(2020, time.March, 1), 1, true},
		{Day(2020, time.March, 9), 1, true},
		{Day(2020, time.March, 10), 10, true},
		{Day(2020, time.March, 19), 10, true},
		{Day(2021, time.January, 1), 20, true},
	}
	for _, tt := range tests {
		got, ok := s.At(tt.date)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("At(%s) = (%d, %v), want (%d, %v)", tt.date.Format(DateLayout), got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSeriesPutSameDateOverwrites(t *testing.T) {
	s := NewSeries(Day(2020, time.March, 1), 5)
	s.Put(Day(2020, time.March, 1), 7)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if v, _ := s.Exact(Day(2020, time.March, 1)); v != 7 {
		t.Fatalf("Exact = %d, want 7", v)
	}
}

func TestNilSeriesLookup(t *testing.T) {
	var s *Series[float64]
	if got := s.AtOr(Day(2020, time.March, 1), 0.5); got != 0.5 {
		t.Fatalf("AtOr on nil series = %v, want fallback 0.5", got)
	}
}
