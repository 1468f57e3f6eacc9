package optimizer

import (
	"math"
	"sync"
)

// gaussianProcess is a small thread-safe GP regressor over observed
// parameter vectors. It backs the surrogate model used to rank candidate
// points between real evaluations. Memory grows linearly with observations,
// prediction cost quadratically; search loops are bounded by config so
// neither matters in practice.
type gaussianProcess struct {
	mu    sync.RWMutex
	xs    [][]float64
	ys    []float64
	sigma float64
}

func newGaussianProcess() *gaussianProcess {
	// sigma 1.0 suits inputs normalized to their bound widths.
	return &gaussianProcess{sigma: 1.0}
}

// rbfKernel measures similarity between two points, decaying exponentially
// with squared distance. Inputs must have equal length.
func (gp *gaussianProcess) rbfKernel(x1, x2 []float64) float64 {
	var sum float64
	for i := range x1 {
		diff := x1[i] - x2[i]
		sum += diff * diff
	}
	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// predict estimates the objective value and uncertainty at x. With no
// observations it returns a flat prior of (0, 1).
func (gp *gaussianProcess) predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.xs) == 0 {
		return 0, 1
	}

	k := make([]float64, len(gp.xs))
	for i := range gp.xs {
		k[i] = gp.rbfKernel(x, gp.xs[i])
	}

	var sum float64
	for i := range gp.xs {
		sum += k[i] * gp.ys[i]
	}
	mean = sum / float64(len(gp.xs))

	variance = 1.0
	for i := range gp.xs {
		for j := range gp.xs {
			variance -= k[i] * k[j] / float64(len(gp.xs))
		}
	}
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// update records an observation. The input vector is copied.
func (gp *gaussianProcess) update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	cp := make([]float64, len(x))
	copy(cp, x)
	gp.xs = append(gp.xs, cp)
	gp.ys = append(gp.ys, y)
}
