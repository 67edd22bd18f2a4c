// Package availability caches which registry models are currently
// reachable at their providers. The cache is process-wide, read-mostly,
// and fails open when stale so a dead sync job never blocks dispatch.
package availability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SyncFunc probes the providers and returns reachability per registry
// model id.
type SyncFunc func(ctx context.Context) (map[string]bool, error)

// Cache is a TTL-based availability cache with an injected clock.
type Cache struct {
	ttl  time.Duration
	now  func() time.Time
	sync SyncFunc

	mu        sync.RWMutex
	reachable map[string]bool
	syncedAt  time.Time

	// refreshing guards against overlapping refreshes.
	refreshing atomic.Bool
}

// New creates a cache. now may be nil for the wall clock.
func New(ttl time.Duration, syncFn SyncFunc, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:       ttl,
		now:       now,
		sync:      syncFn,
		reachable: make(map[string]bool),
	}
}

// Lookup reports whether a model is reachable. A stale or never-synced
// cache fails open: the orchestrator would rather dispatch and surface
// the provider's own error than reject on guesswork.
func (c *Cache) Lookup(modelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.syncedAt.IsZero() || c.now().Sub(c.syncedAt) > c.ttl {
		return true
	}
	up, known := c.reachable[modelID]
	if !known {
		return true
	}
	return up
}

// Stale reports whether the cached snapshot has outlived its TTL.
func (c *Cache) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt.IsZero() || c.now().Sub(c.syncedAt) > c.ttl
}

// Refresh runs the sync function and swaps in the new snapshot. At most
// one refresh runs at a time; a second caller returns immediately.
func (c *Cache) Refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	snapshot, err := c.sync(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.reachable = snapshot
	c.syncedAt = c.now()
	c.mu.Unlock()
	return nil
}
