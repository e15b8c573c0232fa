package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/dhanababum/supermcp-sub001/internal/config"
	"github.com/dhanababum/supermcp-sub001/internal/domain"
)

// Lua scripts for atomic operations
var (
	// saveTenantScript atomically persists a tenant record and bumps its
	// version. If a record already exists the new version is old+1 and the
	// original created_at is preserved; otherwise the version starts at 1.
	// KEYS[1] = tenant key (tenant:{id})
	// KEYS[2] = tenant ID set key (tenants)
	// ARGV[1] = tenant JSON
	// ARGV[2] = tenant ID
	// ARGV[3] = updated_at timestamp (RFC3339)
	// Returns: the new version number
	saveTenantScript = valkey.NewLuaScript(`
local tenantKey = KEYS[1]
local setKey = KEYS[2]
local tenant = cjson.decode(ARGV[1])
local id = ARGV[2]
local updatedAt = ARGV[3]

-- Bump version against the stored record, not the caller's copy
local existing = redis.call('GET', tenantKey)
if existing then
    local old = cjson.decode(existing)
    tenant.version = old.version + 1
    tenant.created_at = old.created_at
else
    tenant.version = 1
end

tenant.updated_at = updatedAt

redis.call('SET', tenantKey, cjson.encode(tenant))
redis.call('SADD', setKey, id)

return tenant.version
`)
)

// Key prefixes for Valkey storage
const (
	keyTenant  = "tenant:"  // tenant:{id} -> JSON
	keyTenants = "tenants"  // set of tenant IDs
	keyCounter = "counter:" // counter:{name} -> int
)

// ValkeyStore implements Repository using Valkey.
type ValkeyStore struct {
	client valkey.Client
}

var _ Repository = (*ValkeyStore)(nil)

// NewValkeyStore creates a new Valkey-backed tenant repository.
func NewValkeyStore(cfg *config.StoreConfig) (*ValkeyStore, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyStore{client: client}, nil
}

// Close closes the Valkey connection.
func (s *ValkeyStore) Close() {
	s.client.Close()
}

// SaveTenant stores a tenant record, validating its backend config first.
// The stored version and timestamps are written back into the argument.
func (s *ValkeyStore) SaveTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.ID == "" {
		return fmt.Errorf("%w: tenant ID is required", domain.ErrInvalidConfig)
	}
	if err := tenant.Backend.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant: %w", err)
	}

	result := saveTenantScript.Exec(
		ctx,
		s.client,
		[]string{keyTenant + tenant.ID, keyTenants},
		[]string{string(data), tenant.ID, now.Format(time.RFC3339Nano)},
	)

	version, err := result.ToInt64()
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	tenant.Version = version

	return nil
}

// GetTenant retrieves a tenant by ID.
func (s *ValkeyStore) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(keyTenant+id).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	var tenant domain.Tenant
	if err := json.Unmarshal([]byte(data), &tenant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tenant: %w", err)
	}

	// A record that fails validation never came through SaveTenant
	if err := tenant.Backend.Validate(); err != nil {
		return nil, fmt.Errorf("stored tenant %s is invalid: %w", id, err)
	}

	return &tenant, nil
}

// DeleteTenant removes a tenant record.
func (s *ValkeyStore) DeleteTenant(ctx context.Context, id string) error {
	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(keyTenant+id).Build()).ToInt64()
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if deleted == 0 {
		return domain.ErrTenantNotFound
	}

	if err := s.client.Do(ctx, s.client.B().Srem().Key(keyTenants).Member(id).Build()).Error(); err != nil {
		return fmt.Errorf("failed to remove tenant from set: %w", err)
	}

	return nil
}

// ListTenants returns all tenant records.
func (s *ValkeyStore) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(keyTenants).Build()).AsStrSlice()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list tenant IDs: %w", err)
	}

	tenants := make([]*domain.Tenant, 0, len(ids))
	for _, id := range ids {
		tenant, err := s.GetTenant(ctx, id)
		if err != nil {
			// ID set can lag a concurrent delete
			if err == domain.ErrTenantNotFound {
				continue
			}
			return nil, err
		}
		tenants = append(tenants, tenant)
	}

	return tenants, nil
}

// IncrementCounter increments a named statistics counter.
func (s *ValkeyStore) IncrementCounter(ctx context.Context, name string) error {
	if err := s.client.Do(ctx, s.client.B().Incr().Key(keyCounter+name).Build()).Error(); err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return nil
}

// Ping checks the Valkey connection.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}
