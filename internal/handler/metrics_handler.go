package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/service"
)

// MetricsHandler exposes the observability endpoints: Prometheus scraping
// and the liveness probe.
type MetricsHandler struct {
	metrics   *service.MetricsService
	startedAt time.Time
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, startedAt: time.Now().UTC()}
}

// Prometheus serves the metrics registry in the Prometheus text format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health is the liveness probe. Readiness, which checks the database, is
// wired separately so a dead database restarts nothing.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}
