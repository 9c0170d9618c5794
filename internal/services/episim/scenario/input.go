package scenario

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
)

func tsvReader(r io.Reader, fields int) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = fields
	reader.ReuseRecord = true
	return reader
}

// ReadPopulation parses tab separated persons with a header row and the
// columns id, age, household, district. Household and district may be empty.
func ReadPopulation(r io.Reader) ([]*person.Person, error) {
	reader := tsvReader(r, 4)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read population: empty input")
		}
		return nil, fmt.Errorf("read population header: %w", err)
	}

	var persons []*person.Person
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read population line %d: %w", line, err)
		}
		age, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("read population line %d age: %w", line, err)
		}
		p := person.New(strings.TrimSpace(record[0]), age)
		p.Household = strings.TrimSpace(record[2])
		p.District = strings.TrimSpace(record[3])
		persons = append(persons, p)
	}
	return persons, nil
}

// ReadVaccinationData parses tab separated dose counts with a header row and
// the columns date (yyyy-MM-dd), group, count. Counts of a date and group
// add up.
func ReadVaccinationData(r io.Reader) (map[time.Time]map[string]int, error) {
	reader := tsvReader(r, 3)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read vaccination data: empty input")
		}
		return nil, fmt.Errorf("read vaccination data header: %w", err)
	}

	out := make(map[time.Time]map[string]int)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read vaccination data line %d: %w", line, err)
		}
		date, err := calendar.Parse(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("read vaccination data line %d date: %w", line, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(record[2]))
		if err != nil {
			return nil, fmt.Errorf("read vaccination data line %d count: %w", line, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("read vaccination data line %d: negative count %d", line, n)
		}
		if out[date] == nil {
			out[date] = make(map[string]int)
		}
		out[date][strings.TrimSpace(record[1])] += n
	}
	return out, nil
}
