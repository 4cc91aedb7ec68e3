package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"practice-billing/internal/domain/plans"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/infra/stripe"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, tenantID uint, extraUsers int, successURL, cancelURL string) (stripe.SessionRef, error)
	FetchPricing(ctx context.Context) (subscriptions.Pricing, error)
}

type Handler struct {
	db      *gorm.DB
	gateway Gateway
	pricing subscriptions.Pricing
	appURL  string
	log     logrus.FieldLogger
}

func NewHandler(db *gorm.DB, gateway Gateway, pricing subscriptions.Pricing, appURL string, log logrus.FieldLogger) *Handler {
	return &Handler{
		db:      db,
		gateway: gateway,
		pricing: pricing,
		appURL:  strings.TrimRight(appURL, "/"),
		log:     log,
	}
}

type checkoutRequest struct {
	ExtraUsers int    `json:"extra_users"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	if tenantID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not identified"})
		return
	}

	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if body.ExtraUsers < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{plans.ViolationNegativeSeats}})
		return
	}

	sub, err := subscriptions.FindByTenant(h.db.WithContext(c.Request.Context()), tenantID)
	if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}
	if sub != nil && sub.HasLivePro() {
		c.JSON(http.StatusConflict, gin.H{"errors": []string{plans.ViolationAlreadyPro}})
		return
	}

	successURL := body.SuccessURL
	if successURL == "" {
		successURL = h.appURL + "/billing?checkout=success"
	}
	cancelURL := body.CancelURL
	if cancelURL == "" {
		cancelURL = h.appURL + "/billing?checkout=canceled"
	}

	session, err := h.gateway.CreateCheckoutSession(c.Request.Context(), tenantID, body.ExtraUsers, successURL, cancelURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create checkout session", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        session.URL,
		"session_id": session.ID,
		"metadata":   session.Metadata,
	})
}

// GetSubscription reports the tenant's current plan. Tenants without a
// Subscription are reported as active basic.
func (h *Handler) GetSubscription(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	if tenantID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not identified"})
		return
	}

	sub, err := subscriptions.FindByTenant(h.db.WithContext(c.Request.Context()), tenantID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		sub = &subscriptions.Subscription{
			TenantID: tenantID,
			PlanType: subscriptions.PlanBasic,
			Status:   subscriptions.StatusActive,
		}
	} else if err != nil {
		h.log.WithError(err).WithField("tenant_id", tenantID).Error("failed to load subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":                  plans.SnapshotOf(sub, h.pricing),
		"current_period_start":  sub.CurrentPeriodStart,
		"current_period_end":    sub.CurrentPeriodEnd,
		"free_months_remaining": sub.FreeMonthsRemaining,
	})
}
