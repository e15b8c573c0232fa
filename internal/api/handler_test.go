package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhanababum/supermcp-sub001/internal/backend"
	"github.com/dhanababum/supermcp-sub001/internal/config"
	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/internal/metrics"
	"github.com/dhanababum/supermcp-sub001/internal/pool"
	"github.com/dhanababum/supermcp-sub001/internal/queue"
	"github.com/dhanababum/supermcp-sub001/internal/tenant"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// mockRepository is an in-memory tenant.Repository.
type mockRepository struct {
	tenants map[string]*domain.Tenant
	pingErr error
}

var _ tenant.Repository = (*mockRepository)(nil)

func newMockRepository() *mockRepository {
	return &mockRepository{tenants: make(map[string]*domain.Tenant)}
}

func (m *mockRepository) SaveTenant(ctx context.Context, t *domain.Tenant) error {
	if t.ID == "" {
		return fmt.Errorf("%w: tenant ID is required", domain.ErrInvalidConfig)
	}
	if err := t.Backend.Validate(); err != nil {
		return err
	}
	if old, ok := m.tenants[t.ID]; ok {
		t.Version = old.Version + 1
	} else {
		t.Version = 1
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *mockRepository) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepository) DeleteTenant(ctx context.Context, id string) error {
	if _, ok := m.tenants[id]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(m.tenants, id)
	return nil
}

func (m *mockRepository) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	out := make([]*domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepository) IncrementCounter(ctx context.Context, name string) error { return nil }

func (m *mockRepository) Ping(ctx context.Context) error { return m.pingErr }

// mockPublisher records published invalidation tasks.
type mockPublisher struct {
	tasks []queue.InvalidationTask
}

var _ queue.Publisher = (*mockPublisher)(nil)

func (m *mockPublisher) PublishInvalidation(ctx context.Context, task queue.InvalidationTask) error {
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

// mockResource is a healthy in-memory backend resource.
type mockResource struct {
	healthy bool
}

func (m *mockResource) Checkout(ctx context.Context) (backend.Unit, error) { return "unit", nil }
func (m *mockResource) Checkin(u backend.Unit) error                       { return nil }
func (m *mockResource) Healthcheck(ctx context.Context) bool               { return m.healthy }
func (m *mockResource) Close() error                                       { return nil }

type mockFactory struct {
	createErr error
	healthy   bool
}

var _ backend.Factory = (*mockFactory)(nil)

func (m *mockFactory) Create(ctx context.Context, cfg domain.BackendConfig) (backend.Resource, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &mockResource{healthy: m.healthy}, nil
}

type testEnv struct {
	router    *gin.Engine
	repo      *mockRepository
	publisher *mockPublisher
	registry  *pool.Registry
}

func newTestEnv(t *testing.T, factory backend.Factory) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Pool: config.PoolConfig{HealthCheckWait: time.Second},
	}
	repo := newMockRepository()
	publisher := &mockPublisher{}
	registry := pool.NewRegistry(pool.Config{
		GlobalMax:    4,
		PerTargetMax: 2,
	}, factory, logging.Nop(), metrics.NewCollector())

	h := NewHandler(cfg, registry, repo, publisher, metrics.NewCollector(), logging.Nop())
	return &testEnv{
		router:    h.Router(),
		repo:      repo,
		publisher: publisher,
		registry:  registry,
	}
}

func mysqlBackend(host string) domain.BackendConfig {
	return domain.BackendConfig{
		Type: domain.BackendMySQL,
		MySQL: &domain.MySQLConfig{
			Host:     host,
			Port:     3306,
			Database: "app",
			User:     "svc",
			Password: "secret",
		},
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	w := env.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	env.repo.pingErr = errors.New("connection refused")
	w = env.do("GET", "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestCreateTenant(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	w := env.do("POST", "/api/v1/tenants", TenantRequest{
		Name:    "Acme",
		Backend: mysqlBackend("db.internal"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created domain.Tenant
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.ID == "" {
		t.Error("created tenant has no ID")
	}
	if created.Version != 1 {
		t.Errorf("Version = %d, want 1", created.Version)
	}
}

func TestCreateTenant_InvalidConfig(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	w := env.do("POST", "/api/v1/tenants", TenantRequest{Name: "Acme", Backend: mysqlBackend("")})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "INVALID_CONFIG" {
		t.Errorf("error code = %q, want INVALID_CONFIG", resp.Code)
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	w := env.do("GET", "/api/v1/tenants/no-such", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListTenants(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})
	for i := 0; i < 3; i++ {
		env.do("POST", "/api/v1/tenants", TenantRequest{
			Name:    "Acme",
			Backend: mysqlBackend(fmt.Sprintf("db-%d.internal", i)),
		})
	}

	w := env.do("GET", "/api/v1/tenants", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
}

func TestUpdateTenant_InvalidatesOldTarget(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	oldBackend := mysqlBackend("db-old.internal")
	seed := &domain.Tenant{ID: "t-1", Name: "Acme", Backend: oldBackend}
	if err := env.repo.SaveTenant(context.Background(), seed); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}
	oldKey := pool.ResolveKey(oldBackend)

	w := env.do("PUT", "/api/v1/tenants/t-1", TenantRequest{
		Name:    "Acme",
		Backend: mysqlBackend("db-new.internal"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var updated domain.Tenant
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}

	if len(env.publisher.tasks) != 1 {
		t.Fatalf("published %d tasks, want 1", len(env.publisher.tasks))
	}
	task := env.publisher.tasks[0]
	if task.TargetKey != string(oldKey) {
		t.Errorf("task.TargetKey = %q, want old key %q", task.TargetKey, oldKey)
	}
	if task.TenantID != "t-1" {
		t.Errorf("task.TenantID = %q, want t-1", task.TenantID)
	}
}

func TestDeleteTenant(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	seed := &domain.Tenant{ID: "t-1", Name: "Acme", Backend: mysqlBackend("db.internal")}
	if err := env.repo.SaveTenant(context.Background(), seed); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}

	w := env.do("DELETE", "/api/v1/tenants/t-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if len(env.publisher.tasks) != 1 {
		t.Fatalf("published %d tasks, want 1", len(env.publisher.tasks))
	}
	if env.publisher.tasks[0].Reason != "tenant deleted" {
		t.Errorf("task.Reason = %q, want 'tenant deleted'", env.publisher.tasks[0].Reason)
	}

	w = env.do("DELETE", "/api/v1/tenants/t-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPingTenant(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	seed := &domain.Tenant{ID: "t-1", Name: "Acme", Backend: mysqlBackend("db.internal")}
	if err := env.repo.SaveTenant(context.Background(), seed); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}

	w := env.do("POST", "/api/v1/tenants/t-1/ping", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp PingResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Healthy {
		t.Error("Healthy = false, want true")
	}
	if resp.TargetKey == "" {
		t.Error("TargetKey is empty")
	}

	// The lease must be returned so the entry is idle again
	stats := env.registry.Stats()
	if got := stats.PerTarget[resp.TargetKey]; got != 0 {
		t.Errorf("outstanding checkouts after ping = %d, want 0", got)
	}
}

func TestPingTenant_BackendUnreachable(t *testing.T) {
	env := newTestEnv(t, &mockFactory{createErr: fmt.Errorf("%w: dial tcp: connection refused", domain.ErrConnect)})

	seed := &domain.Tenant{ID: "t-1", Name: "Acme", Backend: mysqlBackend("db.internal")}
	if err := env.repo.SaveTenant(context.Background(), seed); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}

	w := env.do("POST", "/api/v1/tenants/t-1/ping", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusBadGateway, w.Body.String())
	}

	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "BACKEND_UNREACHABLE" {
		t.Errorf("error code = %q, want BACKEND_UNREACHABLE", resp.Code)
	}
}

func TestPoolStats(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	w := env.do("GET", "/api/v1/pool/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var stats domain.PoolStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
}

func TestEvictEntry(t *testing.T) {
	env := newTestEnv(t, &mockFactory{healthy: true})

	seed := &domain.Tenant{ID: "t-1", Name: "Acme", Backend: mysqlBackend("db.internal")}
	if err := env.repo.SaveTenant(context.Background(), seed); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}

	// Ping creates an entry and leaves it idle
	w := env.do("POST", "/api/v1/tenants/t-1/ping", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d, body %s", w.Code, w.Body.String())
	}
	var resp PingResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	w = env.do("DELETE", "/api/v1/pool/entries/"+resp.TargetKey, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("evict status = %d, want %d, body %s", w.Code, http.StatusNoContent, w.Body.String())
	}

	w = env.do("DELETE", "/api/v1/pool/entries/"+resp.TargetKey, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second evict status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
