package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dhanababum/supermcp-sub001/internal/metrics"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// Reclaimer periodically closes entries that have been idle longer than the
// registry's TTL. It reclaims through the same guarded eviction path as
// everything else, so it can never race a checkout that is about to reuse
// an entry.
type Reclaimer struct {
	registry *Registry
	interval time.Duration
	idleTTL  time.Duration
	logger   *logging.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	sweepCh chan struct{} // bounded on-demand trigger (buffer of 1)
}

// NewReclaimer creates a reclaimer for the registry. The metrics collector
// may be nil.
func NewReclaimer(registry *Registry, logger *logging.Logger, m *metrics.Collector) *Reclaimer {
	return &Reclaimer{
		registry: registry,
		interval: registry.cfg.SweepInterval,
		idleTTL:  registry.cfg.IdleTTL,
		logger:   logger.With("component", "reclaimer"),
		metrics:  m,
		sweepCh:  make(chan struct{}, 1),
	}
}

// Start starts the background sweep loop.
func (rc *Reclaimer) Start(ctx context.Context) error {
	rc.mu.Lock()
	if rc.running {
		rc.mu.Unlock()
		return fmt.Errorf("reclaimer already running")
	}
	rc.stopCh = make(chan struct{})
	rc.doneCh = make(chan struct{})
	rc.running = true
	rc.mu.Unlock()

	go rc.sweepLoop(ctx)

	return nil
}

// Stop stops the background sweep loop and waits for it to finish.
func (rc *Reclaimer) Stop() error {
	rc.mu.Lock()
	if !rc.running {
		rc.mu.Unlock()
		return nil
	}
	close(rc.stopCh)
	rc.running = false
	rc.mu.Unlock()

	<-rc.doneCh
	return nil
}

// TriggerSweep requests an immediate sweep without waiting for the next
// tick. Non-blocking; a pending trigger is coalesced.
func (rc *Reclaimer) TriggerSweep() {
	select {
	case rc.sweepCh <- struct{}{}:
	default:
	}
}

func (rc *Reclaimer) sweepLoop(ctx context.Context) {
	defer close(rc.doneCh)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.stopCh:
			return
		case <-ctx.Done():
			return
		case <-rc.sweepCh:
			rc.sweep()
		case <-ticker.C:
			rc.sweep()
		}
	}
}

func (rc *Reclaimer) sweep() {
	cutoff := time.Now().Add(-rc.idleTTL)
	reclaimed := rc.registry.ReclaimIdle(cutoff)
	if rc.metrics != nil {
		rc.metrics.SweepsTotal.Inc()
	}
	if reclaimed > 0 {
		rc.logger.Info("Sweep reclaimed idle entries", "count", reclaimed)
	}
}
