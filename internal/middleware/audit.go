package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/models"
	"github.com/noah-isme/evr-admin-api/internal/repository"
	"github.com/noah-isme/evr-admin-api/pkg/middleware/requestid"
)

// Audit records an audit-log entry after a request succeeds. Wired onto
// the changeset queue route, where the HTTP-level trail complements the
// service-level entries: it captures who pulled the trigger and from
// which address.
func Audit(repo *repository.UserRepository, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if value, ok := c.Get(ContextUserKey); ok {
			if claims, ok := value.(*models.JWTClaims); ok {
				userID = &claims.UserID
			}
		}

		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		}

		body, _ := json.Marshal(map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": requestid.Value(c),
		})

		// Audit failure must not fail the request that already succeeded.
		_ = repo.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			NewValues:  body,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		})
	}
}
