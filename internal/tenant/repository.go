package tenant

import (
	"context"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
)

// Repository defines the interface for tenant persistence.
// Implementation: Valkey (Redis-compatible).
type Repository interface {
	// Tenant operations
	SaveTenant(ctx context.Context, tenant *domain.Tenant) error
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)

	// Statistics
	IncrementCounter(ctx context.Context, name string) error

	// Health
	Ping(ctx context.Context) error
}
