package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/savorly/commerce-engine/internal/checkout"
	"github.com/savorly/commerce-engine/internal/config"
	"github.com/savorly/commerce-engine/internal/handler"
	"github.com/savorly/commerce-engine/internal/ledger"
	"github.com/savorly/commerce-engine/internal/quota"
	"github.com/savorly/commerce-engine/internal/repository"
	"github.com/savorly/commerce-engine/internal/validator"
	"github.com/savorly/commerce-engine/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Commerce Rule Engine",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator with custom rules
	validate := validator.New()

	// Initialize engine components (layered architecture)
	couponRepo := repository.NewCouponRepository(pool)
	quotaRepo := repository.NewQuotaRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)

	couponLedger := ledger.NewLedger(couponRepo)
	quotaTracker := quota.NewTracker(quotaRepo)
	coordinator := checkout.NewCoordinator(couponLedger, quotaTracker, orderRepo)

	checkoutTimeout := time.Duration(cfg.Server.CheckoutTimeout) * time.Second
	checkoutHandler := handler.NewCheckoutHandler(coordinator, orderRepo, validate, checkoutTimeout)
	couponHandler := handler.NewCouponHandler(couponRepo, couponLedger, validate)
	quotaHandler := handler.NewQuotaHandler(quotaTracker, quotaRepo, validate)

	// Health handler
	healthHandler := handler.NewHealthHandler(pool)
	app.Get("/health", healthHandler.Check)

	// Checkout routes
	app.Post("/api/checkout", checkoutHandler.Checkout)
	app.Get("/api/orders/:key", checkoutHandler.GetOrderByKey)

	// Coupon routes
	app.Post("/api/coupons", couponHandler.CreateCoupon)
	app.Get("/api/coupons", couponHandler.ListCoupons)
	app.Put("/api/coupons/:id", couponHandler.UpdateCoupon)
	app.Delete("/api/coupons/:id", couponHandler.DeactivateCoupon)
	app.Post("/api/coupons/preview", couponHandler.Preview)

	// Quota routes
	app.Get("/api/quota", quotaHandler.GetUsage)
	app.Get("/api/quota/products/check", quotaHandler.CheckProductQuota)
	app.Put("/api/quota", quotaHandler.UpsertQuota)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
