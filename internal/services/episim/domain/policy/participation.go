package policy

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

// Extrapolation continues the participation trend past the end of the data.
type Extrapolation string

const (
	ExtrapolateNone   Extrapolation = "none"
	ExtrapolateLinear Extrapolation = "linear"
)

// DefaultParticipationColumn is the mobility column holding the change in
// out-of-home activity, in percent.
const DefaultParticipationColumn = "notAtHomeExceptLeisureAndEdu"

const (
	trendWeeks       = 8
	extrapolateWeeks = 8
	participationFmt = "20060102"
)

// ParticipationOptions controls how a mobility series becomes a policy.
type ParticipationOptions struct {
	// Alpha scales the observed reduction: reduction = min(1, alpha*(1-remaining)).
	Alpha float64
	// Column names the percent-change column. Defaults to DefaultParticipationColumn.
	Column string
	// Holidays are excluded from weekly averages.
	Holidays []time.Time
	// Extrapolation continues the last weeks' trend.
	Extrapolation Extrapolation
}

func (o ParticipationOptions) withDefaults() ParticipationOptions {
	if o.Alpha == 0 {
		o.Alpha = 1
	}
	if o.Column == "" {
		o.Column = DefaultParticipationColumn
	}
	if o.Extrapolation == "" {
		o.Extrapolation = ExtrapolateNone
	}
	return o
}

// ReadParticipation parses a tab-separated daily mobility series with a header
// row. The first column is a yyyyMMdd date; opts.Column holds the integer
// percent change of out-of-home activity. Values become remaining fractions
// after alpha modulation, in file order.
func ReadParticipation(r io.Reader, opts ParticipationOptions) ([]calendar.Entry[float64], error) {
	opts = opts.withDefaults()
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "read participation header", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(h) == opts.Column {
			col = i
		}
	}
	if col < 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidConfig, "participation column missing", map[string]string{"column": opts.Column})
	}

	var out []calendar.Entry[float64]
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, fmt.Sprintf("participation line %d", line), err)
		}
		if len(rec) <= col {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig, "participation line %d: too few columns", line)
		}
		date, err := time.Parse(participationFmt, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, fmt.Sprintf("participation line %d", line), err)
		}
		value, err := strconv.Atoi(strings.TrimSpace(rec[col]))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, fmt.Sprintf("participation line %d", line), err)
		}
		remaining := 1 + float64(value)/100
		reduction := math.Min(1, opts.Alpha*(1-remaining))
		out = append(out, calendar.Entry[float64]{Date: date, Value: math.Min(1, 1-reduction)})
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "participation series is empty")
	}
	return out, nil
}

// FromParticipation records weekly participation restrictions for the
// activities on b. Each week's value is the mean over Monday to Thursday,
// skipping holidays. District series, when given, produce district
// fractions with the global value as fallback.
func FromParticipation(b *Builder, global []calendar.Entry[float64], districts map[string][]calendar.Entry[float64], opts ParticipationOptions, activities ...string) error {
	opts = opts.withDefaults()
	if len(global) == 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "participation series is empty")
	}
	holidays := make(map[time.Time]bool, len(opts.Holidays))
	for _, h := range opts.Holidays {
		holidays[calendar.Normalize(h)] = true
	}
	globalDays := index(global)
	districtDays := make(map[string]map[time.Time]float64, len(districts))
	for d, series := range districts {
		districtDays[d] = index(series)
	}

	start := calendar.Normalize(global[0].Date)
	end := calendar.Normalize(global[len(global)-1].Date)
	var trend []float64
	for start.Before(end) {
		if avg, ok := weeklyAverage(globalDays, holidays, start); ok {
			trend = append(trend, avg)
			if len(districtDays) > 0 {
				perDistrict := make(map[string]float64, len(districtDays))
				for d, days := range districtDays {
					if v, ok := weeklyAverage(days, holidays, start); ok {
						perDistrict[d] = v
					}
				}
				b.Restrict(start, restriction.WithDistricts(avg, perDistrict), activities...)
			} else {
				b.RestrictFraction(start, avg, activities...)
			}
		}
		start = start.AddDate(0, 0, 7-int(start.Weekday())%7)
	}

	if opts.Extrapolation != ExtrapolateLinear || len(trend) < 2 {
		return b.err
	}
	if len(trend) > trendWeeks {
		trend = trend[len(trend)-trendWeeks:]
	}
	start = start.AddDate(0, 0, 7)
	slope, intercept := linearFit(trend)
	n := len(trend)
	for i := 0; i < extrapolateWeeks; i++ {
		predicted := intercept + slope*float64(n+i)
		b.RestrictFraction(start, math.Max(0, math.Min(predicted, 1)), activities...)
		start = start.AddDate(0, 0, 7)
	}
	return b.err
}

func index(series []calendar.Entry[float64]) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(series))
	for _, e := range series {
		out[calendar.Normalize(e.Date)] = e.Value
	}
	return out
}

func weeklyAverage(days map[time.Time]float64, holidays map[time.Time]bool, start time.Time) (float64, bool) {
	sum, n := 0.0, 0
	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		switch day.Weekday() {
		case time.Friday, time.Saturday, time.Sunday:
			continue
		}
		if holidays[day] {
			continue
		}
		v, ok := days[day]
		if !ok {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// linearFit is an ordinary least squares fit of ys against 0..n-1.
func linearFit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}
