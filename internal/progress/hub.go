// Package progress implements the in-process publish/subscribe channel for
// job progress events. Delivery is best-effort and at-most-once: a slow
// subscriber loses events instead of blocking the worker, and a late
// subscriber only sees events published after it attached. The hub enforces
// the ordering guarantee itself: any event that would move a job's
// percentage backwards is dropped before fan-out.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

// subscriberBuffer is the per-subscriber channel depth. Overflow drops the
// event for that subscriber only.
const subscriberBuffer = 64

type subscription struct {
	ch     chan schemas.ProgressEvent
	jobID  string
	closed bool
}

// Hub fans progress events out to per-job subscribers.
type Hub struct {
	mu sync.Mutex
	// subs holds the live subscriptions per job.
	subs map[string][]*subscription
	// highWater tracks the largest percentage seen per job, so stale
	// events can never run the feed backwards.
	highWater map[string]float64
	log       *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:      make(map[string][]*subscription),
		highWater: make(map[string]float64),
		log:       logger.Named("progress"),
	}
}

// Publish delivers the event to every current subscriber of its job.
// Events whose percentage is below the job's high-water mark are discarded.
func (h *Hub) Publish(event schemas.ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.Percent < h.highWater[event.JobID] {
		h.log.Debug("Dropping regressive progress event",
			zap.String("job_id", event.JobID),
			zap.Float64("percent", event.Percent),
			zap.Float64("high_water", h.highWater[event.JobID]))
		return
	}
	h.highWater[event.JobID] = event.Percent

	for _, sub := range h.subs[event.JobID] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber is not keeping up; drop this event for them.
		}
	}
}

// Subscribe attaches to a job's feed. The returned cancel function detaches
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan schemas.ProgressEvent, func()) {
	sub := &subscription{
		ch:    make(chan schemas.ProgressEvent, subscriberBuffer),
		jobID: jobID,
	}

	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], sub)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.detachLocked(sub)
	}
	return sub.ch, cancel
}

// Complete closes every subscription for the job and clears its high-water
// mark. Called once the job reaches a terminal state.
func (h *Hub) Complete(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[jobID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(h.subs, jobID)
	delete(h.highWater, jobID)
}

// SubscriberCount reports the live subscriptions for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) detachLocked(sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	live := h.subs[sub.jobID][:0]
	for _, s := range h.subs[sub.jobID] {
		if s != sub {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		delete(h.subs, sub.jobID)
	} else {
		h.subs[sub.jobID] = live
	}
}
