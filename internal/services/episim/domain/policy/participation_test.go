package policy

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
)

func participationInput(values map[int]int) string {
	var b strings.Builder
	b.WriteString("date\tnotAtHome\tnotAtHomeExceptLeisureAndEdu\n")
	for d := 2; d <= 15; d++ {
		v := values[d]
		date := time.Date(2020, time.March, d, 0, 0, 0, 0, time.UTC).Format("20060102")
		b.WriteString(date + "\t0\t" + strconv.Itoa(v) + "\n")
	}
	return b.String()
}

func twoWeeks() map[int]int {
	values := map[int]int{}
	for d := 2; d <= 8; d++ {
		values[d] = -20
	}
	for d := 9; d <= 15; d++ {
		values[d] = -40
	}
	return values
}

func TestReadParticipationAppliesAlpha(t *testing.T) {
	series, err := ReadParticipation(strings.NewReader(participationInput(twoWeeks())), ParticipationOptions{Alpha: 2})
	require.NoError(t, err)
	require.Len(t, series, 14)
	assert.InDelta(t, 0.6, series[0].Value, 1e-9)
	assert.InDelta(t, 0.2, series[7].Value, 1e-9)
}

func TestReadParticipationMissingColumn(t *testing.T) {
	_, err := ReadParticipation(strings.NewReader("date\tother\n20200302\t1\n"), ParticipationOptions{})
	assert.Error(t, err)
}

func TestFromParticipationWeeklyAverages(t *testing.T) {
	values := twoWeeks()
	values[9] = 0 // holiday outlier must be excluded
	series, err := ReadParticipation(strings.NewReader(participationInput(values)), ParticipationOptions{})
	require.NoError(t, err)

	b := NewBuilder("work", "leisure")
	require.NoError(t, FromParticipation(b, series, nil, ParticipationOptions{Holidays: []time.Time{day(3, 9)}}, "work", "leisure"))
	p, err := b.Build()
	require.NoError(t, err)

	cal := p.Calendar()["work"]
	require.Len(t, cal, 2)
	assert.Equal(t, day(3, 2), cal[0].Date)
	assert.InDelta(t, 0.8, cal[0].Value.Fraction(), 1e-9)
	assert.Equal(t, day(3, 8), cal[1].Date)
	assert.InDelta(t, 0.6, cal[1].Value.Fraction(), 1e-9)
}

func TestFromParticipationLinearExtrapolation(t *testing.T) {
	series, err := ReadParticipation(strings.NewReader(participationInput(twoWeeks())), ParticipationOptions{})
	require.NoError(t, err)

	b := NewBuilder("work")
	require.NoError(t, FromParticipation(b, series, nil, ParticipationOptions{Extrapolation: ExtrapolateLinear}, "work"))
	p, err := b.Build()
	require.NoError(t, err)

	cal := p.Calendar()["work"]
	require.Len(t, cal, 2+extrapolateWeeks)
	// trend 0.8, 0.6 continues at 0.4, 0.2, 0 and is clamped at zero
	assert.InDelta(t, 0.4, cal[2].Value.Fraction(), 1e-9)
	assert.InDelta(t, 0.2, cal[3].Value.Fraction(), 1e-9)
	assert.InDelta(t, 0.0, cal[len(cal)-1].Value.Fraction(), 1e-9)
	assert.Equal(t, day(3, 22), cal[2].Date)
}

func TestFromParticipationDistricts(t *testing.T) {
	global, err := ReadParticipation(strings.NewReader(participationInput(twoWeeks())), ParticipationOptions{})
	require.NoError(t, err)
	north := map[int]int{}
	for d := 2; d <= 15; d++ {
		north[d] = -50
	}
	northSeries, err := ReadParticipation(strings.NewReader(participationInput(north)), ParticipationOptions{})
	require.NoError(t, err)

	b := NewBuilder("work")
	require.NoError(t, FromParticipation(b, global, map[string][]calendar.Entry[float64]{"north": northSeries}, ParticipationOptions{}, "work"))
	p, err := b.Build()
	require.NoError(t, err)

	r := p.RestrictionsFor(day(3, 3))["work"]
	assert.InDelta(t, 0.5, r.FractionFor("north"), 1e-9)
	assert.InDelta(t, 0.8, r.FractionFor("south"), 1e-9)
}
