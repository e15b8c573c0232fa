package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhanababum/supermcp-sub001/internal/backend"
)

// entry tracks the lifecycle of one tenant's pooled resource. The entry's
// own mutex guards its counters; eviction and checkout for the same key
// serialize on it, so an entry observed idle stays idle until the decision
// is acted on.
type entry struct {
	key      TargetKey
	resource backend.Resource

	mu        sync.Mutex
	inUse     int
	capacity  int
	createdAt time.Time
	lastUsed  time.Time
	closed    bool
}

func newEntry(key TargetKey, res backend.Resource, capacity int) *entry {
	now := time.Now()
	return &entry{
		key:       key,
		resource:  res,
		capacity:  capacity,
		createdAt: now,
		lastUsed:  now,
	}
}

// tryCheckout claims one checkout slot. Returns false when the entry is
// closed (caller should retry creation) or at capacity (caller should treat
// it as pressure).
func (e *entry) tryCheckout() (ok, closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, true
	}
	if e.inUse >= e.capacity {
		return false, false
	}
	e.inUse++
	e.lastUsed = time.Now()
	return true, false
}

// checkin releases one checkout slot. Reports whether the entry had already
// been force-closed, in which case the count was cleared by the closer.
func (e *entry) checkin() (stale bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return true
	}
	if e.inUse > 0 {
		e.inUse--
	}
	e.lastUsed = time.Now()
	return false
}

// undoCheckout backs out a claimed slot after a failed resource checkout.
func (e *entry) undoCheckout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inUse > 0 {
		e.inUse--
	}
}

// tryClose marks the entry closed if it is idle. Once closed, no further
// checkouts succeed.
func (e *entry) tryClose() (ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if e.inUse > 0 {
		return false
	}
	e.closed = true
	return true
}

// forceClose marks the entry closed regardless of outstanding checkouts and
// returns how many were abandoned. Used only by the shutdown drain.
func (e *entry) forceClose() (abandoned int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0
	}
	e.closed = true
	abandoned = e.inUse
	e.inUse = 0
	return abandoned
}

// snapshot returns the fields the LRU scan and stats need, consistently.
func (e *entry) snapshot() (inUse int, lastUsed time.Time, closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inUse, e.lastUsed, e.closed
}

// Handle is one leased unit of a pooled resource, returned by Acquire and
// surrendered via Release.
type Handle struct {
	ID  string
	Key TargetKey

	unit     backend.Unit
	entry    *entry
	released atomic.Bool
}

// Unit returns the leased unit (a *sql.Conn, a *backend.Session, ...).
func (h *Handle) Unit() backend.Unit {
	return h.unit
}

// Healthcheck probes the underlying resource while the lease is held.
func (h *Handle) Healthcheck(ctx context.Context) bool {
	return h.entry.resource.Healthcheck(ctx)
}
