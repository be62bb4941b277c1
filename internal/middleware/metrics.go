package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/service"
)

// Metrics observes every request by route template so /changesets/:id
// stays one series instead of one per changeset. A nil service disables
// observation without touching the handler chain.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched requests (404s) share one bucket.
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
