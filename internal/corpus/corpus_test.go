package corpus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

func run(project string, params map[string]any, confidence float64) schemas.CorpusRun {
	return schemas.CorpusRun{
		ProjectID:  project,
		Tool:       "nextpnr",
		Parameters: params,
		Metrics:    map[string]float64{"fmax": 120},
		Confidence: confidence,
		RecordedAt: time.Now(),
	}
}

func TestMemoryCorpus_SimilarRanking(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop())

	require.NoError(t, c.Record(ctx, run("p1", map[string]any{"seed": 1, "placer": "heap"}, 0.6)))
	require.NoError(t, c.Record(ctx, run("p2", map[string]any{"seed": 2, "placer": "heap", "router": "router2"}, 0.9)))
	require.NoError(t, c.Record(ctx, run("p3", map[string]any{"freq": 100}, 0.99)))

	got, err := c.Similar(ctx, "nextpnr", map[string]any{"seed": 7, "placer": "sa"}, 5)
	require.NoError(t, err)

	// p3 shares no keys with the query and must be excluded; p1 has higher
	// key overlap than p2.
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ProjectID)
	assert.Equal(t, "p2", got[1].ProjectID)
}

func TestMemoryCorpus_SimilarHonorsLimitAndTool(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop())

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Record(ctx, run("p", map[string]any{"seed": i}, 0.5)))
	}

	got, err := c.Similar(ctx, "nextpnr", map[string]any{"seed": 3}, 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = c.Similar(ctx, "yosys", map[string]any{"seed": 3}, 4)
	require.NoError(t, err)
	assert.Empty(t, got, "runs for other tools must not leak across")
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, 0.0, overlap(nil, map[string]any{"a": 1}))
	assert.Equal(t, 1.0, overlap(map[string]any{"a": 1}, map[string]any{"a": 2}))
	assert.InDelta(t, 1.0/3.0, overlap(
		map[string]any{"a": 1, "b": 2},
		map[string]any{"b": 9, "c": 3},
	), 1e-9)
}
