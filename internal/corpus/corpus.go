// Package corpus stores completed optimization runs for cross-project
// transfer learning. The transfer strategy seeds its search from the most
// similar past runs for the same tool. Confidential runs never reach this
// package; the optimizer filters them out before recording.
package corpus

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

// Memory keeps the corpus in process, bucketed by tool.
type Memory struct {
	mu   sync.RWMutex
	runs map[string][]schemas.CorpusRun
	log  *zap.Logger
}

// NewMemory creates an empty in-process corpus.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		runs: make(map[string][]schemas.CorpusRun),
		log:  logger.Named("corpus"),
	}
}

// Record appends a completed run to the tool's bucket.
func (m *Memory) Record(ctx context.Context, run schemas.CorpusRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.Tool] = append(m.runs[run.Tool], run)
	return nil
}

// Similar returns up to limit past runs for the tool, ranked by parameter
// key overlap with the query, then by confidence. Runs sharing no parameter
// keys with the query are excluded.
func (m *Memory) Similar(ctx context.Context, tool string, params map[string]any, limit int) ([]schemas.CorpusRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		run   schemas.CorpusRun
		score float64
	}
	var candidates []scored
	for _, run := range m.runs[tool] {
		s := overlap(params, run.Parameters)
		if s <= 0 {
			continue
		}
		candidates = append(candidates, scored{run: run, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].run.Confidence > candidates[j].run.Confidence
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]schemas.CorpusRun, len(candidates))
	for i, c := range candidates {
		out[i] = c.run
	}
	return out, nil
}

// Size reports how many runs are recorded for the tool.
func (m *Memory) Size(tool string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs[tool])
}

// overlap is the Jaccard index over parameter key sets.
func overlap(a map[string]any, b map[string]any) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
