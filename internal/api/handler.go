package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"reconciliation-service/internal/broker"
	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/redisclient"
	"reconciliation-service/internal/service"
	"reconciliation-service/internal/store"
	"reconciliation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	reconciler *service.Reconciler
	store      *store.Store
	redis      *redisclient.Client
	publisher  *broker.EventPublisher
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reconciler *service.Reconciler,
	store *store.Store,
	redis *redisclient.Client,
	publisher *broker.EventPublisher,
) *Handler {
	return &Handler{
		reconciler: reconciler,
		store:      store,
		redis:      redis,
		publisher:  publisher,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync", h.triggerSync)
		v1.POST("/sync/enqueue", h.enqueueSync)
		v1.GET("/sync/runs", h.listSyncRuns)
		v1.GET("/sync/status", h.syncStatus)
		v1.GET("/daily-sales", h.getDailySales)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when postgres and redis answer
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "details": "database unreachable"})
		return
	}
	if err := h.redis.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "details": "redis unreachable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// triggerSync runs a reconciliation pass synchronously on the request
// context; closing the connection cancels the run before anything is
// persisted.
func (h *Handler) triggerSync(c *gin.Context) {
	var req service.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if msg, ok := validateSyncRequest(&req); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	results, err := h.reconciler.Reconcile(c.Request.Context(), &req)
	if err != nil {
		payload := gin.H{
			"error":   "Reconciliation failed",
			"reason":  errs.Reason(err),
			"details": err.Error(),
		}
		if len(results) > 0 {
			payload["results"] = results
		}
		c.JSON(statusForError(err), payload)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// enqueueSync publishes the request to the sync-requests topic instead of
// running it inline; the worker picks it up.
func (h *Handler) enqueueSync(c *gin.Context) {
	var req service.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if msg, ok := validateSyncRequest(&req); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	excludeTest := false
	if req.ExcludeTestOrders != nil {
		excludeTest = *req.ExcludeTestOrders
	}

	event := &models.SyncRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSyncRequested,
			Timestamp: time.Now(),
		},
		TenantID:          req.TenantID,
		Mode:              string(req.Mode),
		SinceDate:         req.SinceDate,
		UntilDate:         req.UntilDate,
		ExcludeTestOrders: excludeTest,
	}

	if err := h.publisher.PublishSyncRequested(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync request",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": event.EventID})
}

// listSyncRuns returns a tenant's recent run log
func (h *Handler) listSyncRuns(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	runs, err := h.store.ListSyncRuns(c.Request.Context(), tenantID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list sync runs",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// syncStatus serves the cached run state per mode without touching postgres
func (h *Handler) syncStatus(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	modes := models.AllModes()
	if modeStr := c.Query("mode"); modeStr != "" {
		mode := models.Mode(modeStr)
		if !mode.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode"})
			return
		}
		modes = []models.Mode{mode}
	}

	statuses := make([]models.SyncStatus, 0, len(modes))
	for _, mode := range modes {
		status, found, err := h.redis.GetSyncStatus(c.Request.Context(), tenantID, mode)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to read sync status",
				"details": err.Error(),
			})
			return
		}
		if found {
			statuses = append(statuses, status)
		}
	}

	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

// getDailySales serves the stored aggregates for a tenant, mode and
// inclusive date range, ascending by date. Days never synced are absent.
func (h *Handler) getDailySales(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}

	mode := models.Mode(c.Query("mode"))
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be shopify or financial"})
		return
	}

	from, to := c.Query("from"), c.Query("to")
	if !validDate(from) || !validDate(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be YYYY-MM-DD dates"})
		return
	}
	if to < from {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to precedes from"})
		return
	}

	rows, err := h.store.QueryDailySales(c.Request.Context(), tenantID, mode, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to query daily sales",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"daily_sales": rows})
}

// validateSyncRequest checks the fields binding cannot: mode and date
// formats.
func validateSyncRequest(req *service.SyncRequest) (string, bool) {
	if req.Mode != "" && !req.Mode.Valid() {
		return "mode must be shopify or financial", false
	}
	if req.SinceDate != "" && !validDate(req.SinceDate) {
		return "since_date must be a YYYY-MM-DD date", false
	}
	if req.UntilDate != "" && !validDate(req.UntilDate) {
		return "until_date must be a YYYY-MM-DD date", false
	}
	return "", true
}

func validDate(s string) bool {
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}

// statusForError maps run failures to response codes: conflicts and missing
// tenants are the caller's problem, upstream fetch failures are the
// platform's, anything else is ours.
func statusForError(err error) int {
	if errors.Is(err, errs.ErrSyncInProgress) {
		return http.StatusConflict
	}
	if errors.Is(err, errs.ErrConnectionNotFound) {
		return http.StatusNotFound
	}

	var authErr *errs.AuthError
	var transientErr *errs.TransientFetchError
	if errors.As(err, &authErr) || errors.As(err, &transientErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
