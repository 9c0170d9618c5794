package app

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/report"
)

// WriteSummary prints the final state of a run with locale aware number
// grouping. An unparsable locale falls back to English.
func WriteSummary(w io.Writer, locale string, runID string, last report.Snapshot) error {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)

	lines := []string{
		p.Sprintf("run %s finished day %d (%s)", runID, last.Day, last.Date.Format(calendar.DateLayout)),
		p.Sprintf("  infections: %d (imported %d)", last.Totals.Infections, last.Totals.Imported),
		p.Sprintf("  vaccinations: %d doses, %d boosters", last.Totals.Doses, last.Totals.Boosters),
	}
	for _, st := range person.DiseaseStatuses {
		lines = append(lines, p.Sprintf("  %-28s %d", st.String(), last.Status[st.String()]))
	}
	lines = append(lines, p.Sprintf("  traced contacts: %d, dropped: %d", last.Tracing.Traced, last.Tracing.Dropped))
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
