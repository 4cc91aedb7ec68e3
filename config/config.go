package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	AppURL      string
	CORSOrigin  string
	AppEnv      string

	LogLevel  string
	LogFormat string

	Stripe StripeConfig
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	BasePriceID      string
	ExtraSeatPriceID string

	// Amounts used for the locally reported monthly cost, in cents.
	BasePriceCents      int64
	ExtraSeatPriceCents int64

	// SyncPricing replaces the amounts above with the live Stripe prices
	// at startup.
	SyncPricing bool

	RequestTimeout time.Duration
}

// Load reads .env (when present) and the process environment. Missing
// required settings abort the process.
func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: mustEnv("DB_URL"),
		JWTSecret:   mustEnv("JWT_SECRET"),
		AppURL:      getEnv("APP_URL", "http://localhost:5173"),
		CORSOrigin:  getEnv("CORS_ORIGIN", "http://localhost:5173"),
		AppEnv:      getEnv("APP_ENV", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		Stripe: StripeConfig{
			SecretKey:        mustEnv("STRIPE_SECRET_KEY"),
			WebhookSecret:    mustEnv("STRIPE_WEBHOOK_SECRET"),
			BasePriceID:      mustEnv("STRIPE_BASE_PRICE_ID"),
			ExtraSeatPriceID: mustEnv("STRIPE_EXTRA_SEAT_PRICE_ID"),

			BasePriceCents:      getEnvInt64("PRO_BASE_PRICE_CENTS", 4900),
			ExtraSeatPriceCents: getEnvInt64("EXTRA_SEAT_PRICE_CENTS", 1500),

			SyncPricing:    getEnv("STRIPE_SYNC_PRICING", "false") == "true",
			RequestTimeout: getEnvDuration("STRIPE_REQUEST_TIMEOUT", 10*time.Second),
		},
	}
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s=%q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s=%q, using %s", key, value, fallback)
	}
	return fallback
}
