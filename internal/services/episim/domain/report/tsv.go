package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

// TSVWriter writes one tab separated line per snapshot, with a header
// before the first line. Strain columns are not included; use the JSON
// sinks for per-strain data.
type TSVWriter struct {
	mu     sync.Mutex
	w      io.Writer
	header bool
}

// NewTSVWriter writes to w.
func NewTSVWriter(w io.Writer) *TSVWriter {
	return &TSVWriter{w: w}
}

func tsvHeader() []string {
	cols := []string{"day", "date"}
	for _, st := range person.DiseaseStatuses {
		cols = append(cols, "n"+strings.ToUpper(st.String()[:1])+st.String()[1:])
	}
	for _, q := range person.QuarantineStatuses {
		cols = append(cols, "quarantine_"+q.String())
	}
	return append(cols,
		"newInfections", "newCases", "imported", "doses", "boosters",
		"traced", "tracingDropped", "totalInfections")
}

// Write appends the snapshot line.
func (t *TSVWriter) Write(_ context.Context, s Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.header {
		if _, err := io.WriteString(t.w, strings.Join(tsvHeader(), "\t")+"\n"); err != nil {
			return fmt.Errorf("write report header: %w", err)
		}
		t.header = true
	}
	cols := []string{fmt.Sprint(s.Day), s.Date.Format(calendar.DateLayout)}
	for _, st := range person.DiseaseStatuses {
		cols = append(cols, fmt.Sprint(s.Status[st.String()]))
	}
	for _, q := range person.QuarantineStatuses {
		cols = append(cols, fmt.Sprint(s.Quarantine[q.String()]))
	}
	for _, v := range []int{s.NewInfections, s.NewCases, s.Imported, s.Doses, s.Boosters,
		s.Tracing.Traced, s.Tracing.Dropped, s.Totals.Infections} {
		cols = append(cols, fmt.Sprint(v))
	}
	if _, err := io.WriteString(t.w, strings.Join(cols, "\t")+"\n"); err != nil {
		return fmt.Errorf("write report day %d: %w", s.Day, err)
	}
	return nil
}
