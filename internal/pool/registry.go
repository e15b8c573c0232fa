// Package pool implements the multi-tenant resource registry: lazy
// single-flight creation, bounded capacity with LRU eviction, idle-TTL
// reclamation and a drain-on-shutdown lifecycle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhanababum/supermcp-sub001/internal/backend"
	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/internal/metrics"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotTracked is returned when evicting a target key with no live entry.
var ErrNotTracked = errors.New("no pool entry for target")

// Config holds the registry knobs.
type Config struct {
	GlobalMax     int           // Maximum live entries across all targets
	PerTargetMax  int           // Maximum outstanding checkouts per entry
	IdleTTL       time.Duration // Unused duration before the reclaimer closes an entry
	SweepInterval time.Duration // Reclaimer tick
	AcquireWait   time.Duration // How long Acquire blocks for capacity; 0 = fail fast
	ShutdownGrace time.Duration // Bounded drain before busy entries are force-closed
}

// DefaultConfig returns sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		GlobalMax:     100,
		PerTargetMax:  10,
		IdleTTL:       5 * time.Minute,
		SweepInterval: 60 * time.Second,
		AcquireWait:   0,
		ShutdownGrace: 10 * time.Second,
	}
}

// Registry owns the map of target key -> pool entry. The registry mutex
// guards only map structure and capacity accounting; resource I/O (create,
// close, checkout) always runs outside it so one tenant's slow backend
// never blocks the others.
type Registry struct {
	cfg     Config
	factory backend.Factory
	logger  *logging.Logger
	metrics *metrics.Collector

	mu           sync.RWMutex
	entries      map[TargetKey]*entry
	reserved     int // in-flight creations holding a capacity slot
	capacityCh   chan struct{}
	shuttingDown bool

	group    singleflight.Group
	inflight sync.WaitGroup

	evictions  atomic.Int64
	idleCloses atomic.Int64
}

// NewRegistry creates a registry. The metrics collector may be nil.
func NewRegistry(cfg Config, factory backend.Factory, logger *logging.Logger, m *metrics.Collector) *Registry {
	def := DefaultConfig()
	if cfg.GlobalMax <= 0 {
		cfg.GlobalMax = def.GlobalMax
	}
	if cfg.PerTargetMax <= 0 {
		cfg.PerTargetMax = def.PerTargetMax
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	return &Registry{
		cfg:        cfg,
		factory:    factory,
		logger:     logger.With("component", "pool"),
		metrics:    m,
		entries:    make(map[TargetKey]*entry),
		capacityCh: make(chan struct{}),
	}
}

// Acquire returns a handle on the pooled resource for key, creating the
// entry on first use. Concurrent first-use callers for the same key share a
// single creation. At global capacity the least-recently-used idle entry is
// evicted; if none is idle, Acquire fails with ErrPoolExhausted or, when an
// acquire wait is configured, blocks for capacity up to that long before
// failing with ErrAcquireTimeout.
func (r *Registry) Acquire(ctx context.Context, key TargetKey, cfg domain.BackendConfig) (*Handle, error) {
	start := time.Now()
	if r.cfg.AcquireWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireWait)
		defer cancel()
	}

	h, err := r.acquire(ctx, key, cfg)

	if r.metrics != nil {
		r.metrics.AcquiresTotal.WithLabelValues(acquireResult(err)).Inc()
		r.metrics.AcquireDuration.Observe(time.Since(start).Seconds())
	}
	return h, err
}

func acquireResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPoolExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrAcquireTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConnect):
		return "connect_error"
	case errors.Is(err, domain.ErrShutdown):
		return "shutdown"
	default:
		return "error"
	}
}

func (r *Registry) acquire(ctx context.Context, key TargetKey, cfg domain.BackendConfig) (*Handle, error) {
	for {
		r.mu.RLock()
		if r.shuttingDown {
			r.mu.RUnlock()
			return nil, domain.ErrShutdown
		}
		e := r.entries[key]
		r.mu.RUnlock()

		if e == nil {
			created, err := r.createShared(ctx, key, cfg)
			if err != nil {
				return nil, err
			}
			e = created
		}

		ok, closed := e.tryCheckout()
		if closed {
			// Evicted between lookup and checkout; go around and recreate.
			continue
		}
		if !ok {
			// Entry at per-target capacity: same treatment as global pressure.
			if err := r.waitForCapacity(ctx); err != nil {
				return nil, err
			}
			continue
		}

		unit, err := e.resource.Checkout(ctx)
		if err != nil {
			e.undoCheckout()
			r.broadcastCapacity()
			return nil, fmt.Errorf("checkout for %s: %w", key, err)
		}

		r.inflight.Add(1)
		return &Handle{
			ID:    uuid.New().String(),
			Key:   key,
			unit:  unit,
			entry: e,
		}, nil
	}
}

// createShared de-duplicates concurrent creations for the same key. The
// winning caller's creation runs detached from any single caller's context,
// so a caller that times out leaves the shared creation running for the
// rest; its result (entry or error) is delivered to every waiter.
func (r *Registry) createShared(ctx context.Context, key TargetKey, cfg domain.BackendConfig) (*entry, error) {
	ch := r.group.DoChan(string(key), func() (any, error) {
		createCtx := context.WithoutCancel(ctx)
		if r.cfg.AcquireWait > 0 {
			var cancel context.CancelFunc
			createCtx, cancel = context.WithTimeout(createCtx, r.cfg.AcquireWait)
			defer cancel()
		}
		e, err := r.createEntry(createCtx, key, cfg)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			// The flight's own deadline expired; every waiter sees a
			// timeout, not a bare context error.
			return nil, fmt.Errorf("%w: %v", domain.ErrAcquireTimeout, err)
		}
		return e, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrAcquireTimeout, ctx.Err())
	}
}

// createEntry reserves a capacity slot (evicting an idle LRU entry if the
// registry is full), builds the resource outside all locks, and commits the
// entry. A failed creation commits nothing.
func (r *Registry) createEntry(ctx context.Context, key TargetKey, cfg domain.BackendConfig) (*entry, error) {
	for {
		r.mu.Lock()
		if r.shuttingDown {
			r.mu.Unlock()
			return nil, domain.ErrShutdown
		}
		if len(r.entries)+r.reserved < r.cfg.GlobalMax {
			r.reserved++
			r.mu.Unlock()
			break
		}

		victim, found := r.evictIdleLRULocked()
		if victim != nil {
			r.mu.Unlock()
			if err := victim.resource.Close(); err != nil {
				r.logger.Warn("Close failed during eviction", "target", victim.key, "error", err)
			}
			r.evictions.Add(1)
			if r.metrics != nil {
				r.metrics.EvictionsTotal.Inc()
			}
			r.logger.Info("Evicted idle entry for capacity", "target", victim.key)
			r.broadcastCapacity()
			continue
		}
		if found {
			// Candidate was claimed between scan and close; rescan.
			r.mu.Unlock()
			continue
		}

		if r.cfg.AcquireWait <= 0 {
			r.mu.Unlock()
			return nil, domain.ErrPoolExhausted
		}
		waitCh := r.capacityCh
		r.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrAcquireTimeout, ctx.Err())
		}
	}

	start := time.Now()
	res, err := r.factory.Create(ctx, cfg)

	if r.metrics != nil {
		result := "success"
		if err != nil {
			result = "failure"
		}
		r.metrics.CreatesTotal.WithLabelValues(string(cfg.Type), result).Inc()
		r.metrics.CreateDuration.WithLabelValues(string(cfg.Type)).Observe(time.Since(start).Seconds())
	}

	r.mu.Lock()
	r.reserved--
	if err != nil {
		r.mu.Unlock()
		r.broadcastCapacity()
		return nil, err
	}
	if r.shuttingDown {
		r.mu.Unlock()
		res.Close()
		return nil, domain.ErrShutdown
	}
	e := newEntry(key, res, r.cfg.PerTargetMax)
	r.entries[key] = e
	r.mu.Unlock()

	r.logger.Info("Created pool entry", "target", key, "backend", cfg.Type)
	return e, nil
}

// evictIdleLRULocked picks the idle entry with the oldest last-used time
// (ties broken by key order), closes its slot accounting and removes it
// from the map. Caller holds r.mu and closes the resource after unlocking.
// found reports whether any idle candidate existed at scan time.
func (r *Registry) evictIdleLRULocked() (victim *entry, found bool) {
	var best *entry
	var bestUsed time.Time
	for _, e := range r.entries {
		inUse, lastUsed, closed := e.snapshot()
		if closed || inUse > 0 {
			continue
		}
		if best == nil || lastUsed.Before(bestUsed) || (lastUsed.Equal(bestUsed) && e.key < best.key) {
			best = e
			bestUsed = lastUsed
		}
	}
	if best == nil {
		return nil, false
	}
	if !best.tryClose() {
		// A checkout claimed the candidate after the scan.
		return nil, true
	}
	delete(r.entries, best.key)
	return best, true
}

// waitForCapacity blocks until a release or eviction frees capacity, when a
// wait is configured; otherwise it fails fast.
func (r *Registry) waitForCapacity(ctx context.Context) error {
	if r.cfg.AcquireWait <= 0 {
		return domain.ErrPoolExhausted
	}
	r.mu.RLock()
	waitCh := r.capacityCh
	r.mu.RUnlock()
	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrAcquireTimeout, ctx.Err())
	}
}

// broadcastCapacity wakes every caller blocked on capacity.
func (r *Registry) broadcastCapacity() {
	r.mu.Lock()
	close(r.capacityCh)
	r.capacityCh = make(chan struct{})
	r.mu.Unlock()
}

// Release checks the handle's unit back in and updates usage. A second
// release of the same handle is a logged no-op. Releasing a handle whose
// entry was force-closed returns ErrStaleHandle.
func (r *Registry) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if !h.released.CompareAndSwap(false, true) {
		r.logger.Warn("Duplicate release ignored", "handle", h.ID, "target", h.Key)
		if r.metrics != nil {
			r.metrics.ReleasesTotal.WithLabelValues("duplicate").Inc()
		}
		return nil
	}
	defer r.inflight.Done()

	if h.entry.checkin() {
		// Entry force-closed while the handle was out; the unit died with it.
		if r.metrics != nil {
			r.metrics.ReleasesTotal.WithLabelValues("stale").Inc()
		}
		return domain.ErrStaleHandle
	}

	if err := h.entry.resource.Checkin(h.unit); err != nil {
		r.logger.Warn("Checkin failed", "handle", h.ID, "target", h.Key, "error", err)
	}
	if r.metrics != nil {
		r.metrics.ReleasesTotal.WithLabelValues("ok").Inc()
	}
	r.broadcastCapacity()
	return nil
}

// Evict closes and removes the entry for key. Permitted only while the
// entry has no outstanding checkouts; busy entries return ErrEntryBusy.
func (r *Registry) Evict(key TargetKey) error {
	r.mu.Lock()
	e := r.entries[key]
	if e == nil {
		r.mu.Unlock()
		return ErrNotTracked
	}
	if !e.tryClose() {
		r.mu.Unlock()
		return domain.ErrEntryBusy
	}
	delete(r.entries, key)
	r.mu.Unlock()

	err := e.resource.Close()
	r.evictions.Add(1)
	if r.metrics != nil {
		r.metrics.EvictionsTotal.Inc()
	}
	r.logger.Info("Evicted entry", "target", key)
	r.broadcastCapacity()
	return err
}

// ReclaimIdle closes every entry that has no outstanding checkouts and was
// last used before cutoff. Close failures are logged; the entry is removed
// from tracking regardless so bookkeeping can't leak. Returns the number of
// entries reclaimed.
func (r *Registry) ReclaimIdle(cutoff time.Time) int {
	r.mu.Lock()
	var victims []*entry
	for key, e := range r.entries {
		inUse, lastUsed, closed := e.snapshot()
		if closed || inUse > 0 || lastUsed.After(cutoff) {
			continue
		}
		if e.tryClose() {
			delete(r.entries, key)
			victims = append(victims, e)
		}
	}
	r.mu.Unlock()

	for _, e := range victims {
		if err := e.resource.Close(); err != nil {
			r.logger.Warn("Close failed during idle reclaim", "target", e.key, "error", err)
		}
		r.idleCloses.Add(1)
		if r.metrics != nil {
			r.metrics.IdleClosesTotal.Inc()
		}
		r.logger.Info("Reclaimed idle entry", "target", e.key)
	}
	if len(victims) > 0 {
		r.broadcastCapacity()
	}
	return len(victims)
}

// Shutdown stops accepting acquisitions, waits up to the configured grace
// for outstanding handles to come back, then force-closes whatever remains.
// Callers still holding a handle get ErrStaleHandle on release.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	alreadyDraining := r.shuttingDown
	r.shuttingDown = true
	r.mu.Unlock()

	if !alreadyDraining {
		drained := make(chan struct{})
		go func() {
			r.inflight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(r.cfg.ShutdownGrace):
			r.logger.Warn("Shutdown grace expired, force-closing busy entries")
		case <-ctx.Done():
			r.logger.Warn("Shutdown context cancelled, force-closing busy entries")
		}
	}

	r.mu.Lock()
	remaining := r.entries
	r.entries = make(map[TargetKey]*entry)
	r.mu.Unlock()

	var firstErr error
	for key, e := range remaining {
		if abandoned := e.forceClose(); abandoned > 0 {
			r.logger.Warn("Force-closed entry with outstanding checkouts",
				"target", key, "abandoned", abandoned)
		}
		if err := e.resource.Close(); err != nil {
			r.logger.Warn("Close failed during shutdown", "target", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.broadcastCapacity()
	r.logger.Info("Registry drained", "closed", len(remaining))
	return firstErr
}

// Stats returns a snapshot for the observability surface.
func (r *Registry) Stats() *domain.PoolStats {
	r.mu.RLock()
	perTarget := make(map[string]int, len(r.entries))
	for key, e := range r.entries {
		inUse, _, _ := e.snapshot()
		perTarget[string(key)] = inUse
	}
	r.mu.RUnlock()

	return &domain.PoolStats{
		Entries:         len(perTarget),
		Capacity:        r.cfg.GlobalMax,
		PerTarget:       perTarget,
		EvictionsTotal:  r.evictions.Load(),
		IdleClosesTotal: r.idleCloses.Load(),
	}
}
