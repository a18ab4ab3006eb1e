package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sefazor/postpilot-backend/internal/config"
	"github.com/sefazor/postpilot-backend/internal/controller"
	"github.com/sefazor/postpilot-backend/internal/handler"
	"github.com/sefazor/postpilot-backend/internal/middleware"
	"github.com/sefazor/postpilot-backend/internal/repository"
	"github.com/sefazor/postpilot-backend/internal/service"
	"github.com/sefazor/postpilot-backend/pkg/database"
	"github.com/sefazor/postpilot-backend/pkg/email"
	"github.com/sefazor/postpilot-backend/pkg/gateway"
	"github.com/sefazor/postpilot-backend/pkg/invoice"
	"github.com/sefazor/postpilot-backend/pkg/logger"
	"github.com/sefazor/postpilot-backend/pkg/ratelimit"
	"github.com/sefazor/postpilot-backend/pkg/storage"
	"github.com/sefazor/postpilot-backend/pkg/utils"
)

const (
	clientRateLimit  = 60
	clientRateWindow = time.Minute
	webhookPath      = "/api/payments/webhook"
)

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := config.LoadConfig()

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer zl.Sync()

	if err := cfg.Validate(); err != nil {
		zl.Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	if err := database.RunMigrations(db); err != nil {
		zl.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	entitlementRepo := repository.NewEntitlementRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	// Rate limiting
	var webhookLimiter ratelimit.Limiter
	var limiterStorage fiber.Storage
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		defer rdb.Close()
		webhookLimiter = ratelimit.NewRedisLimiter(rdb, "ratelimit:webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow)
		limiterStorage = redisstorage.New(redisstorage.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.Database,
		})
		zl.Info("rate limiting backed by redis", zap.String("host", cfg.Redis.Host))
	} else {
		webhookLimiter = ratelimit.NewMemoryLimiter(cfg.WebhookRateLimit, cfg.WebhookRateWindow, cfg.RateLimiterCapacity)
		zl.Warn("REDIS_HOST not set, rate limits are per instance")
	}

	// Optional integrations
	var archive service.WebhookArchiver
	if cfg.R2Enabled() {
		r2, err := storage.NewCloudflareStorage(context.Background(), cfg.R2)
		if err != nil {
			zl.Fatal("Failed to initialize R2 storage", zap.Error(err))
		}
		archive = storage.NewWebhookArchive(r2, "webhooks")
	}

	var invoices service.InvoiceIssuer
	if cfg.StripeSecretKey != "" {
		invoices = invoice.NewStripeService(cfg.StripeSecretKey)
	} else {
		zl.Warn("STRIPE_SECRET_KEY not set, invoices disabled")
	}

	var notifier service.Notifier
	if cfg.ResendAPIKey != "" {
		emailService, err := email.NewEmailService(cfg.ResendAPIKey, cfg.EmailFrom, cfg.EmailFromName, cfg.FrontendURL, zl)
		if err != nil {
			zl.Fatal("Failed to initialize email service", zap.Error(err))
		}
		notifier = emailService
	} else {
		zl.Warn("RESEND_API_KEY not set, receipts disabled")
	}

	gatewayClient := gateway.NewClient(cfg.Razorpay.BaseURL, cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)

	// Services
	allocator := service.NewCreditAllocator(entitlementRepo, zl)
	subscriptionService := service.NewSubscriptionService(subscriptionRepo, allocator, zl)
	reconciliationService := service.NewReconciliationService(
		orderRepo,
		paymentRepo,
		userRepo,
		subscriptionService,
		allocator,
		gatewayClient,
		invoices,
		notifier,
		cfg.Razorpay.KeySecret,
		zl,
	)
	webhookService := service.NewWebhookService(
		webhookEventRepo,
		orderRepo,
		paymentRepo,
		subscriptionService,
		reconciliationService,
		gatewayClient,
		webhookLimiter,
		archive,
		cfg.Razorpay.WebhookSecret,
		zl,
	)
	orderService := service.NewOrderService(
		orderRepo,
		paymentRepo,
		subscriptionService,
		allocator,
		reconciliationService,
		gatewayClient,
		cfg.Razorpay.KeyID,
		zl,
	)

	// Handlers
	paymentController := controller.NewPaymentController(reconciliationService, webhookService, orderService)
	paymentHandler := handler.NewPaymentHandler(paymentController, utils.NewValidator(), zl)

	// Router
	app := fiber.New(fiber.Config{
		AppName:      "postpilot-payments",
		BodyLimit:    1 << 20,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join([]string{cfg.FrontendURL, "http://localhost:5173"}, ", "),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST",
		AllowCredentials: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	// The webhook has its own per-source limiter in the service.
	app.Use(middleware.RateLimit(clientRateLimit, clientRateWindow, limiterStorage, func(c *fiber.Ctx) bool {
		return c.Path() == webhookPath
	}))

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	handler.RegisterPaymentRoutes(api, paymentHandler, middleware.AuthMiddleware(cfg.JWTSecret, zl))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zl.Fatal("server stopped", zap.Error(err))
		}
	}()
	zl.Info("server started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}
