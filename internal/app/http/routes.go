package routes

import (
	"net/http"

	billingapi "practice-billing/internal/api/billing"
	stripewebhooks "practice-billing/internal/api/stripewebhook"
	"practice-billing/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Dependencies struct {
	DB        *gorm.DB
	JWTSecret string
	Webhooks  *stripewebhooks.Processor
	Billing   *billingapi.Handler
	Metrics   prometheus.Gatherer
}

func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	// The webhook reads the raw body for signature checks; keep it out of
	// the sanitiser.
	r.POST("/webhook", deps.Webhooks.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	billing := r.Group("/billing")
	billing.Use(
		middleware.AuthMiddleware(deps.JWTSecret),
		middleware.RequireTenant(deps.DB),
		middleware.SanitizeAndCleanInputMiddleware(),
	)
	billing.GET("/subscription", deps.Billing.GetSubscription)
	billing.POST("/checkout", deps.Billing.CreateCheckoutSession)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(deps.JWTSecret), middleware.RequireRole("admin"))
	admin.POST("/tenants/:id/subscription", deps.Billing.ProvisionSubscription)
	admin.GET("/pricing", deps.Billing.ComparePricing)
}
