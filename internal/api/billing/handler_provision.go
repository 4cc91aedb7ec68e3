package billing

import (
	"errors"
	"net/http"
	"strconv"

	"practice-billing/internal/domain/plans"
	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/domain/tenants"

	"github.com/gin-gonic/gin"
)

// ProvisionSubscription creates the basic Subscription and UsageLimit of a
// tenant. Calling it again for the same tenant returns the existing row.
func (h *Handler) ProvisionSubscription(c *gin.Context) {
	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || tenantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}

	if _, err := tenants.Find(h.db.WithContext(c.Request.Context()), uint(tenantID)); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	svc := plans.NewService(h.db, referrals.NewCoordinator(h.log), h.pricing, h.log)
	sub, err := svc.CreateForTenant(c.Request.Context(), uint(tenantID), subscriptions.PlanBasic)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to provision subscription"})
		return
	}

	c.JSON(http.StatusOK, plans.SnapshotOf(sub, h.pricing))
}
