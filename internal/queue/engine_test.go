package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/audit"
	"github.com/cadforge/cadopt/internal/config"
	"github.com/cadforge/cadopt/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		QueueSize:          32,
		WorkerConcurrency:  1,
		DefaultTaskTimeout: 5 * time.Second,
		MaxRetries:         3,
		RetryBackoffBase:   time.Millisecond,
		RetryBackoffMax:    5 * time.Millisecond,
	}
}

// scriptedRunner records execution order and plays back per-project scripts
// of errors before succeeding.
type scriptedRunner struct {
	mu       sync.Mutex
	order    []string
	failures map[string][]error
	validate func(schemas.OptimizationRequest) error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{failures: make(map[string][]error)}
}

func (r *scriptedRunner) ValidateRequest(req schemas.OptimizationRequest) error {
	if r.validate != nil {
		return r.validate(req)
	}
	if !req.Strategy.Valid() {
		return schemas.ErrInvalidStrategy
	}
	return nil
}

func (r *scriptedRunner) Optimize(ctx context.Context, jobID string, req schemas.OptimizationRequest, pub schemas.ProgressPublisher) (*schemas.OptimizationResult, bool, error) {
	r.mu.Lock()
	r.order = append(r.order, req.ProjectID)
	var err error
	if queue := r.failures[req.ProjectID]; len(queue) > 0 {
		err, r.failures[req.ProjectID] = queue[0], queue[1:]
	}
	r.mu.Unlock()

	if err != nil {
		return nil, false, err
	}
	if pub != nil {
		pub.Publish(schemas.ProgressEvent{JobID: jobID, Percent: 50})
	}
	return &schemas.OptimizationResult{
		Tool:           req.Tool,
		BestParameters: map[string]any{"opt_level": 2.0},
		Confidence:     0.8,
		StrategyUsed:   req.Strategy,
		Iterations:     10,
	}, false, nil
}

func (r *scriptedRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func request(projectID string) schemas.OptimizationRequest {
	return schemas.OptimizationRequest{
		Tool:       "yosys",
		ProjectID:  projectID,
		Parameters: map[string]any{"opt_level": 1.0},
		Targets:    map[string]float64{"quality": 80},
		Strategy:   schemas.StrategyBayesian,
	}
}

func newTestEngine(t *testing.T, cfg config.EngineConfig, runner Runner) *Engine {
	t.Helper()
	hub := progress.NewHub(zap.NewNop())
	return NewEngine(cfg, runner, hub, audit.NewMemoryRecorder(), zap.NewNop())
}

func waitTerminal(t *testing.T, e *Engine, jobID string) schemas.Job {
	t.Helper()
	var job schemas.Job
	require.Eventually(t, func() bool {
		j, err := e.Status(jobID)
		if err != nil {
			return false
		}
		job = j
		return job.Status.Terminal()
	}, 5*time.Second, 2*time.Millisecond)
	return job
}

func TestEngine_PriorityOrderWithFIFOTieBreak(t *testing.T) {
	runner := newScriptedRunner()
	e := newTestEngine(t, testEngineConfig(), runner)

	// Submit before starting the single worker so ordering is decided
	// entirely by the heap.
	priorities := []schemas.Priority{1, 3, 1, 2, 3}
	ids := make([]string, len(priorities))
	for i, p := range priorities {
		id, err := e.Submit(request(string(rune('a'+i))), p)
		require.NoError(t, err)
		ids[i] = id
	}

	e.Start(context.Background())
	defer e.Stop()
	for _, id := range ids {
		waitTerminal(t, e, id)
	}

	// Highest priority first; the two priority-3 jobs and the two
	// priority-1 jobs keep their submission order.
	assert.Equal(t, []string{"b", "e", "d", "a", "c"}, runner.executed())
}

func TestEngine_InvalidStrategyNeverEnqueued(t *testing.T) {
	runner := newScriptedRunner()
	e := newTestEngine(t, testEngineConfig(), runner)

	req := request("p1")
	req.Strategy = "genetic"
	_, err := e.Submit(req, schemas.PriorityNormal)
	assert.ErrorIs(t, err, schemas.ErrInvalidStrategy)
	assert.Equal(t, 0, e.Depth())
}

func TestEngine_QueueFull(t *testing.T) {
	cfg := testEngineConfig()
	cfg.QueueSize = 1
	e := newTestEngine(t, cfg, newScriptedRunner())

	_, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)
	_, err = e.Submit(request("p2"), schemas.PriorityNormal)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestEngine_CancelledJobsFreeQueueCapacity(t *testing.T) {
	cfg := testEngineConfig()
	cfg.QueueSize = 1
	e := newTestEngine(t, cfg, newScriptedRunner())

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)
	_, err = e.Submit(request("p2"), schemas.PriorityNormal)
	require.ErrorIs(t, err, ErrQueueFull)

	// Cancelling frees the slot even though the heap entry lingers until a
	// worker discards it.
	require.NoError(t, e.Cancel(id))
	assert.Equal(t, 0, e.Depth())
	_, err = e.Submit(request("p3"), schemas.PriorityNormal)
	assert.NoError(t, err)
}

func TestEngine_JobLifecycle(t *testing.T) {
	runner := newScriptedRunner()
	e := newTestEngine(t, testEngineConfig(), runner)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)

	job := waitTerminal(t, e, id)
	assert.Equal(t, schemas.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.Result)
	assert.Equal(t, 0.8, job.Result.Confidence)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	assert.False(t, job.FinishedAt.Before(*job.StartedAt))
}

func TestEngine_StatusUnknownJob(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), newScriptedRunner())
	_, err := e.Status("no-such-job")
	assert.ErrorIs(t, err, schemas.ErrJobNotFound)
}

func TestEngine_TransientRetryThenSuccess(t *testing.T) {
	runner := newScriptedRunner()
	transient := &schemas.TransientError{Op: "evaluation", Err: errors.New("license busy")}
	runner.failures["p1"] = []error{transient, transient}

	e := newTestEngine(t, testEngineConfig(), runner)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)

	job := waitTerminal(t, e, id)
	assert.Equal(t, schemas.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts, "two transient failures plus the success")
}

func TestEngine_TransientRetriesExhausted(t *testing.T) {
	runner := newScriptedRunner()
	transient := &schemas.TransientError{Op: "evaluation", Err: errors.New("license busy")}
	runner.failures["p1"] = []error{transient, transient, transient, transient, transient}

	cfg := testEngineConfig()
	cfg.MaxRetries = 2
	e := newTestEngine(t, cfg, runner)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)

	job := waitTerminal(t, e, id)
	assert.Equal(t, schemas.JobFailed, job.Status)
	assert.Equal(t, schemas.FailureTransient, job.FailureKind)
	assert.Equal(t, 3, job.Attempts, "initial attempt plus two retries")
}

func TestEngine_IterationLimitCarriesPartial(t *testing.T) {
	runner := newScriptedRunner()
	runner.failures["p1"] = []error{&schemas.PartialResultError{
		Partial: &schemas.OptimizationResult{
			BestParameters: map[string]any{"opt_level": 3.0},
			Confidence:     0.4,
		},
	}}

	e := newTestEngine(t, testEngineConfig(), runner)
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)

	job := waitTerminal(t, e, id)
	assert.Equal(t, schemas.JobFailed, job.Status)
	assert.Equal(t, schemas.FailureIterationLimit, job.FailureKind)
	assert.Equal(t, 1, job.Attempts, "iteration limit is not retryable")
	require.NotNil(t, job.Result, "best-known configuration travels with the failure")
	assert.Equal(t, 0.4, job.Result.Confidence)
}

func TestEngine_CancelQueuedJob(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), newScriptedRunner())

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(id))
	job, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobCancelled, job.Status)

	// Terminal states are final.
	assert.ErrorIs(t, e.Cancel(id), schemas.ErrJobNotCancellable)
	assert.ErrorIs(t, e.Cancel("no-such-job"), schemas.ErrJobNotFound)

	// A cancelled entry left in the heap is skipped, not executed.
	runner := newScriptedRunner()
	e2 := newTestEngine(t, testEngineConfig(), runner)
	cancelID, err := e2.Submit(request("skip-me"), schemas.PriorityHigh)
	require.NoError(t, err)
	runID, err := e2.Submit(request("run-me"), schemas.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, e2.Cancel(cancelID))

	e2.Start(context.Background())
	defer e2.Stop()
	waitTerminal(t, e2, runID)
	assert.Equal(t, []string{"run-me"}, runner.executed())
}

func TestEngine_CancelCompletedJob(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), newScriptedRunner())
	e.Start(context.Background())
	defer e.Stop()

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)
	waitTerminal(t, e, id)

	assert.ErrorIs(t, e.Cancel(id), schemas.ErrJobNotCancellable)
}

func TestEngine_ConcurrentWorkers(t *testing.T) {
	cfg := testEngineConfig()
	cfg.WorkerConcurrency = 4
	runner := newScriptedRunner()
	e := newTestEngine(t, cfg, runner)
	e.Start(context.Background())
	defer e.Stop()

	ids := make([]string, 20)
	for i := range ids {
		id, err := e.Submit(request(string(rune('a'+i))), schemas.PriorityNormal)
		require.NoError(t, err)
		ids[i] = id
	}
	for _, id := range ids {
		job := waitTerminal(t, e, id)
		assert.Equal(t, schemas.JobCompleted, job.Status)
	}
	assert.Len(t, runner.executed(), 20)
}

func TestEngine_ProgressTerminatesAtHundred(t *testing.T) {
	runner := newScriptedRunner()
	hub := progress.NewHub(zap.NewNop())
	e := NewEngine(testEngineConfig(), runner, hub, audit.NewMemoryRecorder(), zap.NewNop())

	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)
	events, cancel := hub.Subscribe(id)
	defer cancel()

	e.Start(context.Background())
	defer e.Stop()
	waitTerminal(t, e, id)

	var percents []float64
	for ev := range events {
		percents = append(percents, ev.Percent)
	}
	require.NotEmpty(t, percents)
	assert.Equal(t, 100.0, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
}

func TestEngine_StopIsIdempotentAndLeavesQueueIntact(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), newScriptedRunner())
	e.Start(context.Background())

	e.Stop()
	e.Stop()

	// Submissions after stop stay queued; no worker will pick them up.
	id, err := e.Submit(request("p1"), schemas.PriorityNormal)
	require.NoError(t, err)
	job, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobQueued, job.Status)
}
