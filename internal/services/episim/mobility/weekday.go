package mobility

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// Weekday is a Source built from one typical day per weekday. Each visit is
// kept with the remaining participation fraction of its activity, drawn per
// person, activity and day, so restricted activities thin out without a
// mobility model in the loop.
type Weekday struct {
	days map[time.Weekday]Day
	src  random.Source
	// Districts maps person ids to districts for district specific fractions.
	Districts map[string]string
}

// NewWeekday returns a source over days. Weekdays without data yield ErrNoDay.
func NewWeekday(src random.Source, days map[time.Weekday]Day) *Weekday {
	return &Weekday{days: days, src: src}
}

// Day implements Source.
func (w *Weekday) Day(ctx context.Context, day int, date time.Time, restrictions map[string]restriction.Restriction) (Day, error) {
	if err := ctx.Err(); err != nil {
		return Day{}, err
	}
	base, ok := w.days[date.Weekday()]
	if !ok {
		return Day{}, fmt.Errorf("%s: %w", date.Weekday(), ErrNoDay)
	}
	out := Day{Date: date, Tests: base.Tests, Containers: make([]Container, 0, len(base.Containers))}
	for _, c := range base.Containers {
		r, restricted := restrictions[c.Activity]
		kept := c
		kept.Visits = make([]Visit, 0, len(c.Visits))
		activity := random.StringEntity(c.Activity)
		for _, v := range c.Visits {
			if restricted {
				fraction := r.FractionFor(w.Districts[v.Person])
				if !w.src.Bernoulli(day, random.StringEntity(v.Person)^activity, random.TagParticipation, fraction) {
					continue
				}
			}
			kept.Visits = append(kept.Visits, v)
		}
		if len(kept.Visits) > 0 {
			out.Containers = append(out.Containers, kept)
		}
	}
	return out, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ReadWeekdays parses tab separated visits with a header row and the columns
// weekday, container, activity, spaces, person, enter, exit. Enter and exit
// are seconds since midnight. Container order and visit order follow the
// input; use Normalize before evaluating.
func ReadWeekdays(r io.Reader) (map[time.Weekday]Day, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = 7
	reader.ReuseRecord = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read weekdays: empty input")
		}
		return nil, fmt.Errorf("read weekdays header: %w", err)
	}

	days := make(map[time.Weekday]Day)
	index := make(map[time.Weekday]map[string]int)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read weekdays line %d: %w", line, err)
		}
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(record[0]))]
		if !ok {
			return nil, fmt.Errorf("read weekdays line %d: unknown weekday %q", line, record[0])
		}
		spaces, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, fmt.Errorf("read weekdays line %d spaces: %w", line, err)
		}
		enter, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, fmt.Errorf("read weekdays line %d enter: %w", line, err)
		}
		exit, err := strconv.ParseFloat(record[6], 64)
		if err != nil {
			return nil, fmt.Errorf("read weekdays line %d exit: %w", line, err)
		}

		d := days[wd]
		if index[wd] == nil {
			index[wd] = make(map[string]int)
		}
		id := record[1]
		i, ok := index[wd][id]
		if !ok {
			i = len(d.Containers)
			index[wd][id] = i
			d.Containers = append(d.Containers, Container{ID: id, Activity: record[2], Spaces: spaces})
		} else if d.Containers[i].Activity != record[2] {
			return nil, fmt.Errorf("read weekdays line %d: container %q changes activity", line, id)
		}
		d.Containers[i].Visits = append(d.Containers[i].Visits, Visit{Person: record[4], Enter: enter, Exit: exit})
		days[wd] = d
	}
	for wd, d := range days {
		Normalize(&d)
		days[wd] = d
	}
	return days, nil
}
