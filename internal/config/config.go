package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	Database int
}

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string

	Razorpay RazorpayConfig
	Redis    RedisConfig
	R2       R2Config

	StripeSecretKey string

	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	FrontendURL   string

	WebhookRateLimit  int
	WebhookRateWindow time.Duration
	// Capacity of the in-memory limiter used when redis is not configured.
	RateLimiterCapacity int
}

func LoadConfig() *Config {
	cfg := &Config{
		Env:         env("APP_ENV", "development"),
		Port:        env("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),

		ResendAPIKey:  os.Getenv("RESEND_API_KEY"),
		EmailFrom:     os.Getenv("EMAIL_FROM_ADDRESS"),
		EmailFromName: env("EMAIL_FROM_NAME", "PostPilot"),
		FrontendURL:   env("FRONTEND_URL", "http://localhost:5173"),

		WebhookRateLimit:    envInt("WEBHOOK_RATE_LIMIT", 100),
		WebhookRateWindow:   time.Duration(envInt("WEBHOOK_RATE_WINDOW_SECONDS", 60)) * time.Second,
		RateLimiterCapacity: envInt("RATE_LIMITER_CAPACITY", 10000),
	}

	// Razorpay config
	cfg.Razorpay.KeyID = os.Getenv("RAZORPAY_KEY_ID")
	cfg.Razorpay.KeySecret = os.Getenv("RAZORPAY_KEY_SECRET")
	cfg.Razorpay.WebhookSecret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	cfg.Razorpay.BaseURL = env("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1")

	// Redis config
	cfg.Redis.Host = os.Getenv("REDIS_HOST")
	cfg.Redis.Port = envInt("REDIS_PORT", 6379)
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.Database = envInt("REDIS_DB", 0)

	// R2 config
	cfg.R2.AccountID = os.Getenv("R2_ACCOUNT_ID")
	cfg.R2.AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	cfg.R2.SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	cfg.R2.Bucket = os.Getenv("R2_BUCKET")

	return cfg
}

// Validate reports every missing required setting. The service must not start
// in a degraded mode without them.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"DATABASE_URL":            c.DatabaseURL,
		"JWT_SECRET":              c.JWTSecret,
		"RAZORPAY_KEY_ID":         c.Razorpay.KeyID,
		"RAZORPAY_KEY_SECRET":     c.Razorpay.KeySecret,
		"RAZORPAY_WEBHOOK_SECRET": c.Razorpay.WebhookSecret,
	}
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET", "RAZORPAY_WEBHOOK_SECRET"} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.WebhookRateLimit <= 0 || c.WebhookRateWindow <= 0 {
		return fmt.Errorf("webhook rate limit and window must be positive")
	}
	return nil
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c *Config) R2Enabled() bool {
	return c.R2.AccountID != "" && c.R2.Bucket != ""
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
