package progression

import (
	"fmt"
	"math"
	"math/rand/v2"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/platform/random"
)

// DistributionKind names a duration distribution family.
type DistributionKind string

const (
	DistFixed           DistributionKind = "fixed"
	DistLogNormalMedian DistributionKind = "lognormal_median"
	DistLogNormalMean   DistributionKind = "lognormal_mean"
)

// Distribution draws the number of days until a transition fires.
type Distribution struct {
	Kind DistributionKind
	// Center is the fixed value, the median or the mean depending on Kind.
	Center float64
	Std    float64
}

// Fixed always yields days.
func Fixed(days float64) Distribution {
	return Distribution{Kind: DistFixed, Center: days}
}

// LogNormalMedian is a log-normal with the given median and standard deviation.
func LogNormalMedian(median, std float64) Distribution {
	return Distribution{Kind: DistLogNormalMedian, Center: median, Std: std}
}

// LogNormalMean is a log-normal with the given mean and standard deviation.
func LogNormalMean(mean, std float64) Distribution {
	return Distribution{Kind: DistLogNormalMean, Center: mean, Std: std}
}

func (d Distribution) validate() error {
	switch d.Kind {
	case DistFixed, DistLogNormalMedian, DistLogNormalMean:
	default:
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown duration distribution", map[string]string{"kind": string(d.Kind)})
	}
	if d.Center <= 0 || d.Std < 0 || math.IsNaN(d.Center) || math.IsNaN(d.Std) {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "duration parameters must be positive",
			map[string]string{"center": fmt.Sprint(d.Center), "std": fmt.Sprint(d.Std)})
	}
	return nil
}

// logParams returns mu and sigma of the underlying normal.
func (d Distribution) logParams() (mu, sigma float64) {
	switch d.Kind {
	case DistLogNormalMedian:
		// std^2 = m^2 x (x-1) with x = exp(sigma^2)
		ratio := d.Std * d.Std / (d.Center * d.Center)
		x := (1 + math.Sqrt(1+4*ratio)) / 2
		return math.Log(d.Center), math.Sqrt(math.Log(x))
	case DistLogNormalMean:
		s2 := math.Log(1 + d.Std*d.Std/(d.Center*d.Center))
		return math.Log(d.Center) - s2/2, math.Sqrt(s2)
	default:
		return math.Log(d.Center), 0
	}
}

// Draw returns a duration in whole days, at least one.
func (d Distribution) Draw(r *rand.Rand) int {
	v := d.Center
	if d.Kind != DistFixed && d.Std > 0 {
		mu, sigma := d.logParams()
		v = random.LogNormal(r, mu, sigma)
	}
	days := int(math.Round(v))
	if days < 1 {
		return 1
	}
	return days
}
