package optimizer

import (
	"math"
	"math/rand"
)

// acquisitionFunc scores a candidate point from the GP posterior. The search
// loop picks the candidate with the highest score. bestY is the best (lowest)
// observed objective so far; scores are computed on the negated objective so
// "higher is better" holds for every acquisition.
type acquisitionFunc func(mean, variance, bestY float64, rng *rand.Rand) float64

// upperConfidenceBound trades exploitation (mean) against exploration
// (uncertainty) with a fixed kappa.
func upperConfidenceBound(mean, variance, _ float64, _ *rand.Rand) float64 {
	const kappa = 2.0
	return mean + kappa*math.Sqrt(variance)
}

// expectedImprovement scores how much a candidate is expected to improve on
// the incumbent, in closed form under the Gaussian posterior.
func expectedImprovement(mean, variance, bestY float64, _ *rand.Rand) float64 {
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	z := (mean - bestY) / sd
	return (mean-bestY)*normCDF(z) + sd*normPDF(z)
}

// thompsonSample draws one value from the posterior at the candidate.
// Randomized, so repeated searches explore different basins.
func thompsonSample(mean, variance, _ float64, rng *rand.Rand) float64 {
	return mean + rng.NormFloat64()*math.Sqrt(variance)
}

func normPDF(z float64) float64 {
	return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
}

func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
