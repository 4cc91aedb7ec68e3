package middleware

import (
	"errors"
	"net/http"

	"practice-billing/internal/domain/tenants"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RequireTenant rejects requests whose token names no existing tenant and
// stores the loaded tenant under "tenant".
func RequireTenant(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetUint("tenant_id")
		if tenantID == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token carries no tenant"})
			return
		}

		tenant, err := tenants.Find(db.WithContext(c.Request.Context()), tenantID)
		if errors.Is(err, tenants.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
			return
		}

		c.Set("tenant", tenant)
		c.Next()
	}
}
