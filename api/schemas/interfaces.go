package schemas

import (
	"context"
	"time"
)

// -- Cache Interface --

// CacheEntry pairs a completed result with its expiry bookkeeping.
type CacheEntry struct {
	Fingerprint string
	Result      OptimizationResult
	CreatedAt   time.Time
	TTL         time.Duration
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache stores completed optimization results keyed by request fingerprint.
// Entries past their TTL are treated as absent; lazy expiry is fine.
// Implementations must accept concurrent Put calls for the same fingerprint
// with last-write-wins semantics.
type Cache interface {
	// Get returns the cached result for the fingerprint, or ok=false when
	// absent or expired.
	Get(ctx context.Context, fingerprint string) (OptimizationResult, bool, error)
	// Put stores a completed result under the fingerprint with the given TTL.
	Put(ctx context.Context, fingerprint string, result OptimizationResult, ttl time.Duration) error
}

// -- Transfer Corpus Interface --

// CorpusRun is one completed optimization recorded for cross-project
// transfer learning.
type CorpusRun struct {
	ProjectID  string
	Tool       string
	Parameters map[string]any
	Metrics    map[string]float64
	Confidence float64
	RecordedAt time.Time
}

// Corpus holds completed runs that the transfer-learning strategy mines for
// starting points. Confidential runs never enter the corpus.
type Corpus interface {
	Record(ctx context.Context, run CorpusRun) error
	// Similar returns up to limit past runs for the same tool, most similar
	// (by parameter-key overlap) first.
	Similar(ctx context.Context, tool string, params map[string]any, limit int) ([]CorpusRun, error)
}

// -- Progress Interface --

// ProgressPublisher pushes incremental status to subscribers of a job.
// Delivery is best-effort and at-most-once per event instance.
type ProgressPublisher interface {
	Publish(event ProgressEvent)
}

// -- External Recommendation Interface --

// Recommender supplies the external parameter vector blended in by the
// semi-automatic mode. Implementations may consult a human queue, an EDA
// vendor hint service, or a fixed table.
type Recommender interface {
	Recommend(ctx context.Context, req OptimizationRequest) (map[string]any, error)
}
