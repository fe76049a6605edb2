package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aryog/VibezLive-sub000/internal/bus"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"go.uber.org/zap"
)

// MediaWorkerChecker reports whether the media worker facade backing this
// instance's rooms is alive. Satisfied by *mediaworker.Engine and
// *mediaworker.Client; kept as an interface here so health does not import
// mediaworker directly.
type MediaWorkerChecker interface {
	IsAlive(ctx context.Context) bool
}

// Handler manages health check endpoints.
type Handler struct {
	redisService *bus.Service
	worker       MediaWorkerChecker
}

// NewHandler creates a new health check handler. worker may be nil, in
// which case the media worker check is skipped (considered healthy).
func NewHandler(redisService *bus.Service, worker MediaWorkerChecker) *Handler {
	return &Handler{
		redisService: redisService,
		worker:       worker,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /healthz — returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /readyz — returns 200 only if all critical dependencies are healthy,
// 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	workerStatus := h.checkMediaWorker(ctx)
	checks["mediaworker"] = workerStatus
	if workerStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using the PING command.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkMediaWorker verifies the media worker facade is still responding.
func (h *Handler) checkMediaWorker(ctx context.Context) string {
	if h.worker == nil {
		return "healthy"
	}
	if !h.worker.IsAlive(ctx) {
		return "unhealthy"
	}
	return "healthy"
}

// HealthCheckResponse is a generic health check response for backward compatibility.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
