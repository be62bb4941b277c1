package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/evr-admin-api/internal/middleware"
	"github.com/noah-isme/evr-admin-api/internal/models"
)

// claimsFromContext returns the authenticated user's claims, or nil when
// the route runs without the JWT middleware. Services treat nil claims as
// an anonymous actor and reject role-gated operations.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
