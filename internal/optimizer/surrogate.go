package optimizer

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
)

// Evaluator runs one parameter configuration through a CAD tool (or a stand-in
// for one) and reports the achieved values for the requested metrics.
type Evaluator interface {
	Evaluate(ctx context.Context, tool string, params map[string]any, metrics []string) (map[string]float64, error)
}

// Surrogate is a deterministic analytic evaluator used when no real tool
// backend is attached. Each (tool, metric) pair maps to a fixed smooth
// response surface over the parameters, so repeated evaluations of the same
// configuration always return the same metrics and searches have a real
// landscape to descend.
type Surrogate struct{}

func NewSurrogate() *Surrogate { return &Surrogate{} }

func (s *Surrogate) Evaluate(ctx context.Context, tool string, params map[string]any, metrics []string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]float64, len(metrics))
	for _, metric := range metrics {
		out[metric] = s.surface(tool, metric, keys, params)
	}
	return out, nil
}

// surface evaluates the fixed response surface for one metric: a sum of
// sinusoids whose weights, frequencies, and phases are seeded from the
// (tool, metric) pair, squashed into (0, 100).
func (s *Surrogate) surface(tool, metric string, keys []string, params map[string]any) float64 {
	h := fnv.New64a()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(metric))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	var acc float64
	for _, k := range keys {
		w := rng.Float64()*2 - 1
		freq := 0.5 + rng.Float64()*2
		phase := rng.Float64() * 2 * math.Pi
		acc += w * math.Sin(squash(params[k])*freq+phase)
	}
	if len(keys) > 0 {
		acc /= math.Sqrt(float64(len(keys)))
	}
	return 50 + 50*math.Tanh(acc)
}

// squash folds any parameter value into a bounded float so magnitudes do not
// dominate the surface. Strings hash to a stable pseudo-value.
func squash(v any) float64 {
	if f, ok := asFloat(v); ok {
		return f / (1 + math.Abs(f)) * 4
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return -1
	case string:
		h := fnv.New32a()
		h.Write([]byte(t))
		return float64(h.Sum32()%1000)/500 - 1
	default:
		return 0
	}
}

// asFloat extracts a numeric parameter value. Bools and strings are not
// numeric; they pass through searches untouched.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
