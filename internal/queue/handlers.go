package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/internal/pool"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// Evictor removes a pooled resource by target key.
type Evictor interface {
	Evict(key pool.TargetKey) error
}

// TenantGetter resolves tenant records when a task carries no target key.
type TenantGetter interface {
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
}

// NewInvalidationHandler returns the handler wired into the consumer.
// Tasks for unknown or already-gone targets are treated as complete. Busy
// entries are left alone: the next idle sweep or explicit eviction will get
// them, and redelivering the task would not make the checkouts return any
// sooner.
func NewInvalidationHandler(evictor Evictor, tenants TenantGetter, logger *logging.Logger) InvalidationHandler {
	return func(ctx context.Context, task InvalidationTask) error {
		key := pool.TargetKey(task.TargetKey)
		if key == "" {
			tenant, err := tenants.GetTenant(ctx, task.TenantID)
			if err != nil {
				if errors.Is(err, domain.ErrTenantNotFound) {
					// Tenant deleted after the task was queued; nothing to drop
					logger.Info("invalidation for deleted tenant",
						"task_id", task.TaskID,
						"tenant_id", task.TenantID)
					return nil
				}
				return fmt.Errorf("failed to resolve tenant %s: %w", task.TenantID, err)
			}
			key = pool.ResolveKey(tenant.Backend)
		}

		err := evictor.Evict(key)
		switch {
		case err == nil:
			logger.Info("invalidated pool entry",
				"task_id", task.TaskID,
				"tenant_id", task.TenantID,
				"target_key", string(key),
				"reason", task.Reason)
			return nil
		case errors.Is(err, pool.ErrNotTracked):
			logger.Debug("invalidation target not pooled",
				"task_id", task.TaskID,
				"target_key", string(key))
			return nil
		case errors.Is(err, domain.ErrEntryBusy):
			logger.Warn("invalidation target busy, skipping",
				"task_id", task.TaskID,
				"target_key", string(key))
			return nil
		default:
			return fmt.Errorf("failed to evict %s: %w", key, err)
		}
	}
}
