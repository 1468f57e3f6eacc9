package schemas

import "time"

// -- Job Schemas --

// JobStatus tracks the lifecycle of a queued optimization run. A job moves
// queued -> running exactly once, then into exactly one terminal state. It
// never re-enters queued.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is one a job can never leave.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Priority orders jobs in the queue. Higher values run first; ties are
// broken FIFO by submission order.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// FailureKind classifies a terminal job failure for the status surface.
type FailureKind string

const (
	FailureInvalidStrategy FailureKind = "invalid_strategy"
	FailureIterationLimit  FailureKind = "iteration_limit_exceeded"
	FailureTransient       FailureKind = "transient_resource_error"
	FailureInternal        FailureKind = "internal_error"
)

// Job wraps an OptimizationRequest with queue bookkeeping. Snapshots of this
// struct are what the status endpoint returns; the queue owns the canonical
// copy.
type Job struct {
	ID          string              `json:"job_id"`
	Request     OptimizationRequest `json:"request"`
	Priority    Priority            `json:"priority"`
	Status      JobStatus           `json:"status"`
	Attempts    int                 `json:"attempts"`
	SubmittedAt time.Time           `json:"submitted_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Result      *OptimizationResult `json:"result,omitempty"`
	FailureKind FailureKind         `json:"failure_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
}
