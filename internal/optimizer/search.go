package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/config"
)

// searchSpace is the numeric view of a request's parameters: the dimensions
// the search may move, their bounds, and the non-numeric values carried
// through untouched.
type searchSpace struct {
	names       []string
	bounds      []Bound
	initial     []float64
	passthrough map[string]any
}

// buildSpace splits the request parameters into searchable numeric dimensions
// and passthrough values. Dimension order is sorted by name so encode/decode
// round-trips are stable.
func buildSpace(profile ToolProfile, params map[string]any) *searchSpace {
	sp := &searchSpace{passthrough: make(map[string]any)}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f, ok := asFloat(params[k]); ok {
			sp.names = append(sp.names, k)
			sp.bounds = append(sp.bounds, profile.boundFor(k, f))
			sp.initial = append(sp.initial, f)
		} else {
			sp.passthrough[k] = params[k]
		}
	}
	return sp
}

// decode renders a search vector back into a full parameter map, clamping to
// bounds and snapping integer dimensions.
func (sp *searchSpace) decode(x []float64) map[string]any {
	out := make(map[string]any, len(sp.names)+len(sp.passthrough))
	for k, v := range sp.passthrough {
		out[k] = v
	}
	for i, name := range sp.names {
		out[name] = sp.bounds[i].clamp(x[i])
	}
	return out
}

func (b Bound) clamp(v float64) float64 {
	if b.Integer {
		v = math.Round(v)
	}
	if v < b.Min {
		v = b.Min
	}
	if v > b.Max {
		v = b.Max
	}
	return v
}

// sample draws a uniform random point from the space.
func (sp *searchSpace) sample(rng *rand.Rand) []float64 {
	x := make([]float64, len(sp.bounds))
	for i, b := range sp.bounds {
		x[i] = b.Min + rng.Float64()*(b.Max-b.Min)
	}
	return x
}

// normalize maps a point onto unit-scale coordinates for the GP kernel, so
// wide and narrow dimensions contribute comparably to distance.
func (sp *searchSpace) normalize(x []float64) []float64 {
	n := make([]float64, len(x))
	for i, b := range sp.bounds {
		width := b.Max - b.Min
		if width == 0 {
			continue
		}
		n[i] = (x[i] - b.Min) / width
	}
	return n
}

// loss measures how far achieved metrics sit from their targets: the sum of
// squared relative errors. Zero means every target was hit exactly.
func loss(achieved map[string]float64, targets map[string]float64) float64 {
	var sum float64
	for name, want := range targets {
		got := achieved[name]
		scale := math.Max(math.Abs(want), 1)
		d := (got - want) / scale
		sum += d * d
	}
	return sum
}

// confidenceFrom converts a loss into the 0..1 confidence reported to
// callers. Exact target hits score 1.
func confidenceFrom(l float64) float64 {
	return 1 / (1 + l)
}

func metricNames(targets map[string]float64) []string {
	names := make([]string, 0, len(targets))
	for k := range targets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// searchOpts carries the per-strategy knobs into the shared loop.
type searchOpts struct {
	cfg     config.OptimizerConfig
	rng     *rand.Rand
	acquire acquisitionFunc
	// seeds are extra starting points evaluated before random sampling;
	// the transfer strategy fills these from the corpus.
	seeds [][]float64
	// budget overrides cfg.MaxIterations when positive.
	budget int
	// progress, when set, receives percent and best-so-far after each
	// evaluation. Percent never exceeds 99 here; terminal completion owns 100.
	progress func(percent float64, bestParams map[string]any, bestMetrics map[string]float64)
}

// searchLoop is the shared Bayesian search: evaluate initial points, then
// repeatedly pick the acquisition-optimal candidate from a random pool,
// evaluate it, and fold the observation back into the GP. It stops on
// convergence (no improvement for ConvergenceWindow iterations), context
// cancellation, or budget exhaustion. Exhaustion returns the best-known
// configuration wrapped in a PartialResultError.
func searchLoop(ctx context.Context, eval Evaluator, req schemas.OptimizationRequest, sp *searchSpace, opts searchOpts) (*schemas.OptimizationResult, error) {
	start := time.Now()
	metrics := metricNames(req.Targets)

	evaluations := 0
	evaluate := func(x []float64) (map[string]any, map[string]float64, float64, error) {
		params := sp.decode(x)
		achieved, err := eval.Evaluate(ctx, req.Tool, params, metrics)
		if err != nil {
			return nil, nil, 0, err
		}
		evaluations++
		return params, achieved, loss(achieved, req.Targets), nil
	}

	result := func(params map[string]any, achieved map[string]float64, l float64) *schemas.OptimizationResult {
		return &schemas.OptimizationResult{
			Tool:            req.Tool,
			BestParameters:  params,
			AchievedMetrics: achieved,
			Confidence:      confidenceFrom(l),
			Iterations:      evaluations,
			Duration:        time.Since(start),
		}
	}

	// Nothing to search: a space with no numeric dimensions is a single
	// evaluation of the request as-is.
	if len(sp.names) == 0 {
		params, achieved, l, err := evaluate(sp.initial)
		if err != nil {
			return nil, err
		}
		return result(params, achieved, l), nil
	}

	budget := opts.cfg.MaxIterations
	if opts.budget > 0 {
		budget = opts.budget
	}

	gp := newGaussianProcess()
	var (
		bestParams  map[string]any
		bestMetrics map[string]float64
		bestLoss    = math.Inf(1)
	)

	observe := func(x []float64) (improved bool, err error) {
		params, achieved, l, err := evaluate(x)
		if err != nil {
			return false, err
		}
		gp.update(sp.normalize(x), -l)
		if l < bestLoss {
			bestLoss, bestParams, bestMetrics = l, params, achieved
			improved = true
		}
		if opts.progress != nil {
			pct := math.Min(99, float64(evaluations)/float64(budget)*100)
			opts.progress(pct, bestParams, bestMetrics)
		}
		return improved, nil
	}

	// Initial design: corpus seeds first, the request's own configuration,
	// then uniform random fill.
	initial := append([][]float64{}, opts.seeds...)
	initial = append(initial, append([]float64(nil), sp.initial...))
	for len(initial) < opts.cfg.InitialSamples {
		initial = append(initial, sp.sample(opts.rng))
	}
	for _, x := range initial {
		if evaluations >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := observe(x); err != nil {
			return nil, err
		}
	}
	if bestLoss == 0 {
		return result(bestParams, bestMetrics, bestLoss), nil
	}

	sinceImprovement := 0
	for evaluations < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Rank a random candidate pool by the acquisition score and take
		// the winner.
		var (
			bestCand  []float64
			bestScore = math.Inf(-1)
		)
		for i := 0; i < opts.cfg.NumCandidates; i++ {
			cand := sp.sample(opts.rng)
			mean, variance := gp.predict(sp.normalize(cand))
			score := opts.acquire(mean, variance, -bestLoss, opts.rng)
			if score > bestScore {
				bestScore, bestCand = score, cand
			}
		}

		improved, err := observe(bestCand)
		if err != nil {
			return nil, err
		}
		if improved {
			sinceImprovement = 0
			if bestLoss == 0 {
				return result(bestParams, bestMetrics, bestLoss), nil
			}
		} else {
			sinceImprovement++
			if sinceImprovement >= opts.cfg.ConvergenceWindow {
				return result(bestParams, bestMetrics, bestLoss), nil
			}
		}
	}

	// Budget spent while still improving: hand back what we have, flagged.
	partial := result(bestParams, bestMetrics, bestLoss)
	return nil, &schemas.PartialResultError{Partial: partial}
}
