package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --

var (
	// ErrInvalidStrategy marks an unsupported strategy/tool combination.
	// Surfaced to the caller immediately and never retried.
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrIterationLimitExceeded means the search did not converge within the
	// configured iteration budget. The best-known partial result, if any,
	// travels alongside via PartialResultError.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

	// ErrCacheUnavailable signals that the cache backend could not be
	// reached. The optimizer degrades gracefully and proceeds uncached.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrJobNotFound is returned by the queue for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCancellable is returned when a cancel request arrives after
	// the job already left the queued state.
	ErrJobNotCancellable = errors.New("job is not in a cancellable state")
)

// TransientError wraps a retryable backing-store or resource failure. The
// queue retries these with exponential backoff up to the configured cap.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient resource error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the queue.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PartialResultError carries the best-known result out of a search that hit
// its iteration limit, so callers can surface it without treating it as a
// successful completion.
type PartialResultError struct {
	Partial *OptimizationResult
}

func (e *PartialResultError) Error() string {
	return ErrIterationLimitExceeded.Error()
}

func (e *PartialResultError) Unwrap() error { return ErrIterationLimitExceeded }
