package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dhanababum/supermcp-sub001/internal/config"
	"github.com/dhanababum/supermcp-sub001/internal/domain"
	"github.com/dhanababum/supermcp-sub001/internal/metrics"
	"github.com/dhanababum/supermcp-sub001/internal/pool"
	"github.com/dhanababum/supermcp-sub001/internal/queue"
	"github.com/dhanababum/supermcp-sub001/internal/tenant"
	"github.com/dhanababum/supermcp-sub001/pkg/logging"
)

// ErrorResponse is the JSON body returned on request failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// TenantRequest is the body for tenant create and update calls.
type TenantRequest struct {
	Name    string               `json:"name"`
	Backend domain.BackendConfig `json:"backend"`
}

// PingResponse reports the outcome of an on-demand backend healthcheck.
type PingResponse struct {
	TenantID  string `json:"tenant_id"`
	TargetKey string `json:"target_key"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
}

// Handler holds the HTTP handlers and dependencies.
type Handler struct {
	cfg       *config.Config
	registry  *pool.Registry
	tenants   tenant.Repository
	publisher queue.Publisher
	metrics   *metrics.Collector
	logger    *logging.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	cfg *config.Config,
	registry *pool.Registry,
	tenants tenant.Repository,
	publisher queue.Publisher,
	m *metrics.Collector,
	logger *logging.Logger,
) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		tenants:   tenants,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Router returns the configured Gin router.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestMetrics(h.metrics))

	// Health check
	r.GET("/health", h.health)

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	// API v1
	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(h.cfg.API.Key))
	{
		tenants := v1.Group("/tenants")
		{
			tenants.POST("", h.createTenant)
			tenants.GET("", h.listTenants)
			tenants.GET("/:id", h.getTenant)
			tenants.PUT("/:id", h.updateTenant)
			tenants.DELETE("/:id", h.deleteTenant)
			tenants.POST("/:id/ping", h.pingTenant)
		}

		pool := v1.Group("/pool")
		{
			pool.GET("/stats", h.poolStats)
			pool.DELETE("/entries/:key", h.evictEntry)
		}
	}

	return r
}

// health returns a simple health check response.
func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.tenants.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{"status": status})
}

// createTenant validates and stores a new tenant record.
func (h *Handler) createTenant(c *gin.Context) {
	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	t := &domain.Tenant{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Backend: req.Backend,
	}
	if err := h.tenants.SaveTenant(c.Request.Context(), t); err != nil {
		h.tenantError(c, err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

// listTenants returns all tenant records.
func (h *Handler) listTenants(c *gin.Context) {
	tenants, err := h.tenants.ListTenants(c.Request.Context())
	if err != nil {
		h.tenantError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// getTenant returns one tenant record.
func (h *Handler) getTenant(c *gin.Context) {
	t, err := h.tenants.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tenantError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// updateTenant replaces a tenant's config and invalidates its pooled
// resource. The invalidation targets the key derived from the old config,
// which is the entry a changed config leaves behind.
func (h *Handler) updateTenant(c *gin.Context) {
	id := c.Param("id")

	var req TenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
		return
	}

	existing, err := h.tenants.GetTenant(c.Request.Context(), id)
	if err != nil {
		h.tenantError(c, err)
		return
	}
	oldKey := pool.ResolveKey(existing.Backend)

	updated := &domain.Tenant{
		ID:        id,
		Name:      req.Name,
		Backend:   req.Backend,
		CreatedAt: existing.CreatedAt,
	}
	if err := h.tenants.SaveTenant(c.Request.Context(), updated); err != nil {
		h.tenantError(c, err)
		return
	}

	h.publishInvalidation(c.Request.Context(), id, oldKey, "config updated")

	c.JSON(http.StatusOK, updated)
}

// deleteTenant removes a tenant record and invalidates its pooled resource.
func (h *Handler) deleteTenant(c *gin.Context) {
	id := c.Param("id")

	existing, err := h.tenants.GetTenant(c.Request.Context(), id)
	if err != nil {
		h.tenantError(c, err)
		return
	}
	key := pool.ResolveKey(existing.Backend)

	if err := h.tenants.DeleteTenant(c.Request.Context(), id); err != nil {
		h.tenantError(c, err)
		return
	}

	h.publishInvalidation(c.Request.Context(), id, key, "tenant deleted")

	c.Status(http.StatusNoContent)
}

// pingTenant checks out the tenant's pooled resource and probes it.
func (h *Handler) pingTenant(c *gin.Context) {
	t, err := h.tenants.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.tenantError(c, err)
		return
	}

	key := pool.ResolveKey(t.Backend)
	handle, err := h.registry.Acquire(c.Request.Context(), key, t.Backend)
	if err != nil {
		h.poolError(c, err)
		return
	}
	defer func() {
		if err := h.registry.Release(handle); err != nil {
			h.logger.Warn("release after ping failed", "error", err, "target_key", string(key))
		}
	}()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Pool.HealthCheckWait)
	defer cancel()

	start := time.Now()
	healthy := handle.Healthcheck(ctx)
	elapsed := time.Since(start)
	h.metrics.HealthCheckDuration.Observe(elapsed.Seconds())

	c.JSON(http.StatusOK, PingResponse{
		TenantID:  t.ID,
		TargetKey: string(key),
		Healthy:   healthy,
		LatencyMS: elapsed.Milliseconds(),
	})
}

// poolStats returns current pool statistics.
func (h *Handler) poolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}

// evictEntry drops one idle pool entry by target key.
func (h *Handler) evictEntry(c *gin.Context) {
	key := pool.TargetKey(c.Param("key"))
	if err := h.registry.Evict(key); err != nil {
		h.poolError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// publishInvalidation queues an invalidation task, best effort. The store
// is the source of truth; a lost task is recovered by the idle reclaimer.
func (h *Handler) publishInvalidation(ctx context.Context, tenantID string, key pool.TargetKey, reason string) {
	task := queue.InvalidationTask{
		TaskID:    uuid.New().String(),
		TenantID:  tenantID,
		TargetKey: string(key),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.publisher.PublishInvalidation(ctx, task); err != nil {
		h.logger.Error("failed to publish invalidation",
			"error", err,
			"tenant_id", tenantID,
			"target_key", string(key))
	}
}

func (h *Handler) tenantError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "TENANT_NOT_FOUND"})
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrUnsupportedBackend):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CONFIG"})
	default:
		h.logger.Error("tenant store error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

func (h *Handler) poolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolExhausted):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "POOL_EXHAUSTED"})
	case errors.Is(err, domain.ErrAcquireTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Code: "ACQUIRE_TIMEOUT"})
	case errors.Is(err, domain.ErrConnect):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "BACKEND_UNREACHABLE"})
	case errors.Is(err, domain.ErrShutdown):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SHUTTING_DOWN"})
	case errors.Is(err, domain.ErrEntryBusy):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "ENTRY_BUSY"})
	case errors.Is(err, pool.ErrNotTracked):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_TRACKED"})
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrUnsupportedBackend):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CONFIG"})
	default:
		h.logger.Error("pool error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}
