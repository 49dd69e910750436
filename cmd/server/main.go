package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/autopilot/internal/auth"
	"github.com/ksred/autopilot/internal/config"
	"github.com/ksred/autopilot/internal/database"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/executor"
	"github.com/ksred/autopilot/internal/intent"
	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/monitor"
	"github.com/ksred/autopilot/internal/notify"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/planner"
	"github.com/ksred/autopilot/internal/safety"
	"github.com/ksred/autopilot/internal/scheduler"
	"github.com/ksred/autopilot/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the execution engine with graceful shutdown support
// It wires the scheduler and monitoring loops, all services, database
// connections, and API routes
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService := ledger.NewService(db)

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService, ledgerService)

	// Simulated domain collaborators; a real deployment swaps these for
	// venue and oracle clients behind the same interfaces
	metrics := &domain.StaticMetrics{Values: map[string]float64{
		"price:SOL":        150.0,
		"price:ETH":        3200.0,
		"portfolio:health": 1.0,
	}}
	domainHandlers := domain.SimulatedHandlers(metrics)
	notifier := notify.NewLogNotifier()

	gate := safety.NewGate(ledgerService, orderService.GetDB(), cfg.DailySpendCap)
	executorService := executor.NewService(db, gate, domainHandlers, notifier, cfg.DispatchTimeout)

	registry := monitor.NewRegistry(db, metrics, domainHandlers, notifier, cfg.TickInterval)
	monitorHandlers := monitor.NewGinHandlers(registry)

	tickScheduler := scheduler.NewScheduler(orderService.GetDB(), executorService, cfg.WorkerCount, cfg.TickInterval)
	schedulerHandlers := scheduler.NewGinHandlers(tickScheduler)

	confirmations := intent.NewConfirmations()
	stepExecutor := intent.NewStepExecutor(intent.NewDatabase(db), domainHandlers, registry, confirmations, cfg.DispatchTimeout, cfg.ConfirmationTimeout)
	intentService := intent.NewService(db, planner.NewScripted(), stepExecutor, registry, confirmations, cfg.MinConfidence)
	intentHandlers := intent.NewGinHandlers(intentService)

	// Start the background loops
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	go tickScheduler.Start(loopCtx)
	go registry.Start(loopCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, orderHandlers, intentHandlers, schedulerHandlers, monitorHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the loops first so no new executions start mid-shutdown
	loopCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order and intent routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
// Parameters:
//   - router: The main Gin router instance
//   - jwtSecret: Secret used to verify bearer tokens
//   - authHandlers: Handlers for authentication endpoints
//   - orderHandlers: Handlers for standing order management
//   - intentHandlers: Handlers for intent submission and lifecycle
//   - schedulerHandlers: Handlers for internal scheduling operations
//   - monitorHandlers: Handlers for internal rule evaluation
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	intentHandlers *intent.GinHandlers,
	schedulerHandlers *scheduler.GinHandlers,
	monitorHandlers *monitor.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Standing order routes
		orderRoutes := v1.Group("/orders")
		orderRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			orderRoutes.POST("", orderHandlers.CreateOrderHandler())
			orderRoutes.GET("", orderHandlers.ListOrdersHandler())
			orderRoutes.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderRoutes.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
			orderRoutes.POST("/:order_id/pause", orderHandlers.PauseOrderHandler())
			orderRoutes.POST("/:order_id/resume", orderHandlers.ResumeOrderHandler())
		}

		// Intent routes
		intentRoutes := v1.Group("/intents")
		intentRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			intentRoutes.POST("", intentHandlers.SubmitIntentHandler())
			intentRoutes.GET("/:intent_id", intentHandlers.GetIntentHandler())
			intentRoutes.POST("/:intent_id/confirm", intentHandlers.ConfirmIntentHandler())
			intentRoutes.POST("/:intent_id/cancel", intentHandlers.CancelIntentHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/tick", schedulerHandlers.TickHandler())
			internal.POST("/evaluate", monitorHandlers.EvaluateHandler())
		}
	}
}
