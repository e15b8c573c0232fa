//go:build e2e

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

// createdTenants tracks tenants created during tests for cleanup
var (
	createdTenants   []string
	createdTenantsMu sync.Mutex
)

func trackTenant(id string) {
	createdTenantsMu.Lock()
	defer createdTenantsMu.Unlock()
	createdTenants = append(createdTenants, id)
}

// TestMain runs before/after all tests for global setup and cleanup
func TestMain(m *testing.M) {
	code := m.Run()

	cleanupRemainingTenants()

	os.Exit(code)
}

// cleanupRemainingTenants deletes tenants created by the suite via the API
func cleanupRemainingTenants() {
	createdTenantsMu.Lock()
	remaining := make([]string, len(createdTenants))
	copy(remaining, createdTenants)
	createdTenantsMu.Unlock()

	if len(remaining) == 0 {
		return
	}

	fmt.Printf("\n[E2E Cleanup] Deleting %d tracked tenants...\n", len(remaining))

	c := &client{
		base: getBaseURL(),
		http: &http.Client{Timeout: 5 * time.Second},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range remaining {
		if _, err := c.deleteTenant(ctx, id); err != nil {
			fmt.Printf("[E2E Cleanup] Failed to delete %s: %v\n", id, err)
		} else {
			fmt.Printf("[E2E Cleanup] Deleted %s\n", id)
		}
	}
}

// API payloads

type TenantResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

type PingResponse struct {
	TenantID  string `json:"tenant_id"`
	TargetKey string `json:"target_key"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
}

type StatsResponse struct {
	Entries         int            `json:"entries"`
	Capacity        int            `json:"capacity"`
	PerTarget       map[string]int `json:"per_target"`
	EvictionsTotal  int64          `json:"evictions_total"`
	IdleClosesTotal int64          `json:"idle_closes_total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Test client

type client struct {
	base string
	http *http.Client
}

func getBaseURL() string {
	if url := os.Getenv("E2E_BASE_URL"); url != "" {
		return url
	}
	return defaultBaseURL
}

func setup(t *testing.T) *client {
	t.Helper()
	c := &client{
		base: getBaseURL(),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.health(ctx); err != nil {
		t.Skipf("Server not running at %s: %v", c.base, err)
	}
	return c
}

func (c *client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("E2E_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, nil
}

func (c *client) health(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("health check returned %d", status)
	}
	return nil
}

// mysqlTenantBody builds a create/update payload against the test MySQL
// backend. E2E_MYSQL_HOST should point at a reachable MySQL for ping tests;
// tenant CRUD works regardless.
func mysqlTenantBody(name string) map[string]any {
	host := os.Getenv("E2E_MYSQL_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	return map[string]any{
		"name": name,
		"backend": map[string]any{
			"type": "mysql",
			"mysql": map[string]any{
				"host":     host,
				"port":     3306,
				"database": "e2e",
				"user":     "e2e",
				"password": "e2e",
			},
		},
	}
}

func (c *client) createTenant(ctx context.Context, name string) (*TenantResponse, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/tenants", mysqlTenantBody(name))
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		var errResp ErrorResponse
		json.Unmarshal(body, &errResp)
		return nil, fmt.Errorf("create failed: %d - %s (%s)", status, errResp.Error, errResp.Code)
	}
	var result TenantResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	trackTenant(result.ID)
	return &result, nil
}

func (c *client) deleteTenant(ctx context.Context, id string) (int, error) {
	status, _, err := c.do(ctx, http.MethodDelete, "/api/v1/tenants/"+id, nil)
	return status, err
}

func (c *client) stats(ctx context.Context) (*StatsResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/v1/pool/stats", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("stats failed: %d", status)
	}
	var result StatsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &result, nil
}

// Tests

func TestHealthEndpoint(t *testing.T) {
	c := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestTenantLifecycle(t *testing.T) {
	c := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := c.createTenant(ctx, "e2e-lifecycle")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("version = %d, want 1", created.Version)
	}

	status, body, err := c.do(ctx, http.MethodGet, "/api/v1/tenants/"+created.ID, nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("get: status %d, err %v", status, err)
	}
	var fetched TenantResponse
	json.Unmarshal(body, &fetched)
	if fetched.Name != "e2e-lifecycle" {
		t.Errorf("name = %q", fetched.Name)
	}

	status, body, err = c.do(ctx, http.MethodPut, "/api/v1/tenants/"+created.ID, mysqlTenantBody("e2e-renamed"))
	if err != nil || status != http.StatusOK {
		t.Fatalf("update: status %d, err %v, body %s", status, err, body)
	}
	var updated TenantResponse
	json.Unmarshal(body, &updated)
	if updated.Version != 2 {
		t.Errorf("version after update = %d, want 2", updated.Version)
	}

	status, err = c.deleteTenant(ctx, created.ID)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("delete: status %d, err %v", status, err)
	}

	status, _, _ = c.do(ctx, http.MethodGet, "/api/v1/tenants/"+created.ID, nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", status)
	}
}

func TestPingPopulatesPool(t *testing.T) {
	if os.Getenv("E2E_MYSQL_HOST") == "" {
		t.Skip("Set E2E_MYSQL_HOST to run backend ping tests")
	}
	c := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created, err := c.createTenant(ctx, "e2e-ping")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/tenants/"+created.ID+"/ping", nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("ping: status %d, err %v, body %s", status, err, body)
	}
	var ping PingResponse
	json.Unmarshal(body, &ping)
	if !ping.Healthy {
		t.Errorf("healthy = false")
	}

	stats, err := c.stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries < 1 {
		t.Errorf("entries = %d, want >= 1 after ping", stats.Entries)
	}
	if _, ok := stats.PerTarget[ping.TargetKey]; !ok {
		t.Errorf("target key %s not present in stats", ping.TargetKey)
	}

	// Explicit eviction of the now-idle entry
	status, body, err = c.do(ctx, http.MethodDelete, "/api/v1/pool/entries/"+ping.TargetKey, nil)
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("evict: status %d, err %v, body %s", status, err, body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	c := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Capacity <= 0 {
		t.Errorf("capacity = %d, want > 0", stats.Capacity)
	}
	if stats.Entries > stats.Capacity {
		t.Errorf("entries %d exceeds capacity %d", stats.Entries, stats.Capacity)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, body, err := c.do(ctx, http.MethodGet, "/metrics", nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("metrics: status %d, err %v", status, err)
	}
	if !bytes.Contains(body, []byte("supermcp_pool_capacity")) {
		t.Error("metrics output missing pool capacity gauge")
	}
}
