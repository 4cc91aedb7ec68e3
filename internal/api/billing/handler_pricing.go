package billing

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ComparePricing shows the amounts used for reported costs next to the live
// Stripe prices so drift between the two can be spotted.
func (h *Handler) ComparePricing(c *gin.Context) {
	remote, err := h.gateway.FetchPricing(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to fetch stripe pricing")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch Stripe pricing", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configured": gin.H{
			"base_cents":       h.pricing.BaseCents,
			"extra_seat_cents": h.pricing.ExtraSeatCents,
		},
		"stripe": gin.H{
			"base_cents":       remote.BaseCents,
			"extra_seat_cents": remote.ExtraSeatCents,
		},
		"in_sync": remote == h.pricing,
	})
}
