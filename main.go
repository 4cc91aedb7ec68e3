package main

import (
	"context"
	"os"
	"time"

	"practice-billing/config"
	"practice-billing/database"
	billingapi "practice-billing/internal/api/billing"
	stripewebhooks "practice-billing/internal/api/stripewebhook"
	routes "practice-billing/internal/app/http"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/infra/stripe"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("failed to migrate database")
	}
	logger.Info("connected and migrated")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pricing := subscriptions.Pricing{
		BaseCents:      cfg.Stripe.BasePriceCents,
		ExtraSeatCents: cfg.Stripe.ExtraSeatPriceCents,
	}

	gateway := stripe.NewGateway(stripe.Config{
		SecretKey:        cfg.Stripe.SecretKey,
		BasePriceID:      cfg.Stripe.BasePriceID,
		ExtraSeatPriceID: cfg.Stripe.ExtraSeatPriceID,
		AppEnv:           cfg.AppEnv,
		RequestTimeout:   cfg.Stripe.RequestTimeout,
	}, subscriptions.NewCustomers(db), logger)

	if cfg.Stripe.SyncPricing {
		pricing = syncPricing(gateway, pricing, logger)
	}

	processor := stripewebhooks.NewProcessor(db, gateway, stripewebhooks.Options{
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Pricing:       pricing,
		Metrics:       stripewebhooks.NewMetrics(registry),
	}, logger)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Dependencies{
		DB:        db,
		JWTSecret: cfg.JWTSecret,
		Webhooks:  processor,
		Billing:   billingapi.NewHandler(db, gateway, pricing, cfg.AppURL, logger),
		Metrics:   registry,
	})

	if err := r.Run(":" + cfg.Port); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// syncPricing falls back to the configured amounts when Stripe cannot be read.
func syncPricing(gateway *stripe.Gateway, fallback subscriptions.Pricing, logger *logrus.Logger) subscriptions.Pricing {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, err := gateway.FetchPricing(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to sync pricing from stripe, using configured amounts")
		return fallback
	}
	logger.WithFields(logrus.Fields{
		"base_cents":       remote.BaseCents,
		"extra_seat_cents": remote.ExtraSeatCents,
	}).Info("pricing synced from stripe")
	return remote
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
