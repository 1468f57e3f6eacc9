// Package cache stores completed optimization results keyed by request
// fingerprint. Two backends exist: a bounded in-process map and a PostgreSQL
// table for deployments that share results across restarts.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

// Memory is a bounded, TTL-aware in-process cache. Expiry is lazy: stale
// entries are dropped when read or when eviction needs room. Concurrent Put
// calls for one fingerprint resolve last-write-wins.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	maxEntries int
	log        *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewMemory creates a memory cache holding at most maxEntries entries.
func NewMemory(maxEntries int, logger *zap.Logger) *Memory {
	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		log:        logger.Named("cache"),
		now:        time.Now,
	}
}

// Get returns the cached result for the fingerprint, treating expired
// entries as absent.
func (m *Memory) Get(ctx context.Context, fingerprint string) (schemas.OptimizationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[fingerprint]
	if !ok {
		return schemas.OptimizationResult{}, false, nil
	}
	entry := elem.Value.(schemas.CacheEntry)
	if entry.Expired(m.now()) {
		m.order.Remove(elem)
		delete(m.entries, fingerprint)
		return schemas.OptimizationResult{}, false, nil
	}
	return entry.Result, true, nil
}

// Put stores a completed result under the fingerprint. An existing entry for
// the same fingerprint is replaced wholesale.
func (m *Memory) Put(ctx context.Context, fingerprint string, result schemas.OptimizationResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := schemas.CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		CreatedAt:   m.now(),
		TTL:         ttl,
	}

	if elem, ok := m.entries[fingerprint]; ok {
		m.order.Remove(elem)
		delete(m.entries, fingerprint)
	}
	for len(m.entries) >= m.maxEntries {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(schemas.CacheEntry)
		m.order.Remove(oldest)
		delete(m.entries, evicted.Fingerprint)
		m.log.Debug("Evicted oldest cache entry", zap.String("fingerprint", evicted.Fingerprint))
	}

	m.entries[fingerprint] = m.order.PushBack(entry)
	return nil
}

// Len reports the current number of live entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
