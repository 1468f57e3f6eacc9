// Package queue implements the prioritized job queue and its worker pool.
// Jobs move queued -> running exactly once, then into exactly one terminal
// state; higher priorities run first and equal priorities run in submission
// order. Transient failures are retried with exponential backoff, everything
// else fails the job on the first attempt.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/audit"
	"github.com/cadforge/cadopt/internal/config"
)

// ErrQueueFull is returned by Submit when the pending backlog is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// Runner executes one optimization request. Satisfied by optimizer.Optimizer;
// tests substitute scripted fakes.
type Runner interface {
	ValidateRequest(req schemas.OptimizationRequest) error
	Optimize(ctx context.Context, jobID string, req schemas.OptimizationRequest, pub schemas.ProgressPublisher) (*schemas.OptimizationResult, bool, error)
}

// Publisher is the progress surface the engine drives: per-event fan-out plus
// the terminal close. Satisfied by progress.Hub.
type Publisher interface {
	Publish(event schemas.ProgressEvent)
	Complete(jobID string)
}

// Engine owns the pending heap, the canonical job records, and the worker
// pool that drains them.
type Engine struct {
	cfg    config.EngineConfig
	runner Runner
	hub    Publisher
	audit  audit.Recorder
	log    *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending jobHeap
	jobs    map[string]*schemas.Job
	seq     uint64
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine wires an engine; call Start before submitting work.
func NewEngine(cfg config.EngineConfig, runner Runner, hub Publisher, rec audit.Recorder, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		runner: runner,
		hub:    hub,
		audit:  rec,
		log:    logger.Named("queue"),
		jobs:   make(map[string]*schemas.Job),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the worker pool. Workers run until Stop or until ctx is
// cancelled; the job currently being processed is cancelled with them.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	// Wake blocked workers if the parent context dies out from under us.
	go func() {
		<-runCtx.Done()
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		e.cond.Broadcast()
	}()

	e.wg.Add(e.cfg.WorkerConcurrency)
	for i := 0; i < e.cfg.WorkerConcurrency; i++ {
		go e.worker(runCtx, i)
	}
	e.log.Info("Queue engine started", zap.Int("workers", e.cfg.WorkerConcurrency))
}

// Stop shuts the pool down and waits for in-flight jobs to finish or be
// cancelled. Jobs still queued stay queued; a restarted engine would pick
// them up again.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("Queue engine stopped")
}

// Submit validates and enqueues a request. Invalid strategies are rejected
// here and never enter the queue. The returned ID is the handle for Status,
// Cancel, and progress subscriptions.
func (e *Engine) Submit(req schemas.OptimizationRequest, priority schemas.Priority) (string, error) {
	if err := e.runner.ValidateRequest(req); err != nil {
		return "", err
	}
	if priority < schemas.PriorityLow || priority > schemas.PriorityHigh {
		priority = schemas.PriorityNormal
	}

	job := &schemas.Job{
		ID:          uuid.NewString(),
		Request:     req.Clone(),
		Priority:    priority,
		Status:      schemas.JobQueued,
		SubmittedAt: time.Now(),
	}

	e.mu.Lock()
	if e.queuedLocked() >= e.cfg.QueueSize {
		e.mu.Unlock()
		return "", ErrQueueFull
	}
	e.seq++
	e.jobs[job.ID] = job
	heap.Push(&e.pending, &queuedJob{job: job, seq: e.seq})
	e.mu.Unlock()

	e.cond.Signal()
	e.log.Debug("Job submitted",
		zap.String("job_id", job.ID),
		zap.String("tool", req.Tool),
		zap.Int("priority", int(priority)))
	return job.ID, nil
}

// Status returns a snapshot of the job record.
func (e *Engine) Status(jobID string) (schemas.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return schemas.Job{}, schemas.ErrJobNotFound
	}
	return snapshot(job), nil
}

// Cancel moves a still-queued job to cancelled. Jobs that are already
// running or terminal cannot be cancelled.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return schemas.ErrJobNotFound
	}
	if job.Status != schemas.JobQueued {
		e.mu.Unlock()
		return schemas.ErrJobNotCancellable
	}
	now := time.Now()
	job.Status = schemas.JobCancelled
	job.FinishedAt = &now
	e.mu.Unlock()

	// The heap entry stays put; workers discard entries whose job already
	// left the queued state.
	e.hub.Complete(jobID)
	e.audit.JobOutcome(jobID, schemas.JobCancelled, "", "cancelled before execution")
	e.log.Info("Job cancelled", zap.String("job_id", jobID))
	return nil
}

// Depth reports how many jobs are waiting, not counting cancelled stragglers
// still in the heap.
func (e *Engine) Depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queuedLocked()
}

// queuedLocked counts heap entries that are still actually queued. Cancelled
// entries linger until a worker discards them and must not eat capacity.
func (e *Engine) queuedLocked() int {
	n := 0
	for _, qj := range e.pending {
		if qj.job.Status == schemas.JobQueued {
			n++
		}
	}
	return n
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.log.With(zap.Int("worker", id))

	for {
		job := e.next()
		if job == nil {
			return
		}
		e.run(ctx, log, job)
	}
}

// next blocks until a runnable job is available or the engine stops.
// Cancelled entries are discarded on the way.
func (e *Engine) next() *schemas.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		for e.pending.Len() > 0 {
			qj := heap.Pop(&e.pending).(*queuedJob)
			if qj.job.Status != schemas.JobQueued {
				continue
			}
			now := time.Now()
			qj.job.Status = schemas.JobRunning
			qj.job.StartedAt = &now
			return qj.job
		}
		if e.stopped {
			return nil
		}
		e.cond.Wait()
	}
}

// run drives one job through the optimizer, retrying transient failures with
// exponential backoff until the attempt budget runs out.
func (e *Engine) run(ctx context.Context, log *zap.Logger, job *schemas.Job) {
	var (
		res *schemas.OptimizationResult
		err error
	)
	for attempt := 1; ; attempt++ {
		e.mu.Lock()
		job.Attempts = attempt
		e.mu.Unlock()

		runCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.DefaultTaskTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, e.cfg.DefaultTaskTimeout)
		}
		res, _, err = e.runner.Optimize(runCtx, job.ID, job.Request, e.hub)
		if cancel != nil {
			cancel()
		}

		if err == nil || !schemas.IsTransient(err) || attempt > e.cfg.MaxRetries {
			break
		}
		backoff := e.backoff(attempt)
		log.Warn("Transient failure, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	e.finish(log, job, res, err)
}

// backoff doubles from the configured base per attempt, capped at the max.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBackoffBase << (attempt - 1)
	if d > e.cfg.RetryBackoffMax || d <= 0 {
		d = e.cfg.RetryBackoffMax
	}
	return d
}

// finish records the terminal state, closes the progress feed, and writes the
// audit trail.
func (e *Engine) finish(log *zap.Logger, job *schemas.Job, res *schemas.OptimizationResult, err error) {
	now := time.Now()

	e.mu.Lock()
	job.FinishedAt = &now
	switch {
	case err == nil:
		job.Status = schemas.JobCompleted
		job.Result = res
	default:
		job.Status = schemas.JobFailed
		job.Error = err.Error()
		job.FailureKind = classify(err)
		var pre *schemas.PartialResultError
		if errors.As(err, &pre) && pre.Partial != nil {
			// Best-known configuration travels with the failure.
			job.Result = pre.Partial
		}
	}
	status, kind, msg := job.Status, job.FailureKind, job.Error
	e.mu.Unlock()

	if err == nil {
		e.hub.Publish(schemas.ProgressEvent{
			JobID:       job.ID,
			Percent:     100,
			BestParams:  res.BestParameters,
			BestMetrics: res.AchievedMetrics,
		})
		log.Info("Job completed",
			zap.String("job_id", job.ID),
			zap.Int("iterations", res.Iterations),
			zap.Float64("confidence", res.Confidence))
	} else {
		log.Warn("Job failed",
			zap.String("job_id", job.ID),
			zap.String("failure_kind", string(kind)),
			zap.Error(err))
	}
	e.hub.Complete(job.ID)
	e.audit.JobOutcome(job.ID, status, kind, msg)
}

func classify(err error) schemas.FailureKind {
	switch {
	case errors.Is(err, schemas.ErrInvalidStrategy):
		return schemas.FailureInvalidStrategy
	case errors.Is(err, schemas.ErrIterationLimitExceeded):
		return schemas.FailureIterationLimit
	case schemas.IsTransient(err):
		return schemas.FailureTransient
	default:
		return schemas.FailureInternal
	}
}

// snapshot deep-copies the fields a caller could mutate.
func snapshot(job *schemas.Job) schemas.Job {
	out := *job
	out.Request = job.Request.Clone()
	if job.Result != nil {
		res := *job.Result
		out.Result = &res
	}
	return out
}
