package seeding

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
)

// Interpolate fills series with daily values rising linearly from a at start
// to b at end, scaled by factor. The start date itself is left untouched.
func Interpolate(series *calendar.Series[int], factor float64, start, end time.Time, a, b float64) {
	start, end = calendar.Normalize(start), calendar.Normalize(end)
	days := int(end.Sub(start).Hours() / 24)
	for i := 1; i <= days; i++ {
		fraction := float64(i) / float64(days)
		series.Put(start.AddDate(0, 0, i), int(math.Round(factor*(a+fraction*(b-a)))))
	}
}

// ReadImports parses a tab separated import series with a header row, a
// yyyyMMdd date column and an integer count column. Counts are scaled by
// factor and rounded.
func ReadImports(r io.Reader, factor float64) (*calendar.Series[int], error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read imports: empty input")
		}
		return nil, fmt.Errorf("read imports header: %w", err)
	}
	series := &calendar.Series[int]{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read imports line %d: %w", line, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("read imports line %d: want 2 columns, got %d", line, len(record))
		}
		date, err := time.ParseInLocation("20060102", strings.TrimSpace(record[0]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("read imports line %d: %w", line, err)
		}
		value, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("read imports line %d: %w", line, err)
		}
		series.Put(date, int(math.Round(factor*float64(value))))
	}
	return series, nil
}
