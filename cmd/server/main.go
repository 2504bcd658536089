package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/monetra/autoinvest/internal/allocation"
	"github.com/monetra/autoinvest/internal/auth"
	"github.com/monetra/autoinvest/internal/balance"
	"github.com/monetra/autoinvest/internal/database"
	"github.com/monetra/autoinvest/internal/events"
	"github.com/monetra/autoinvest/internal/exchange"
	"github.com/monetra/autoinvest/internal/idempotency"
	"github.com/monetra/autoinvest/internal/orders"
	"github.com/monetra/autoinvest/internal/payments"
	"github.com/monetra/autoinvest/internal/reconciliation"
	"github.com/monetra/autoinvest/internal/resilience"
	"github.com/monetra/autoinvest/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// config carries the environment-driven settings of the server. Admission
// thresholds are policy knobs, deployments tune them without a rebuild.
type config struct {
	Port              string
	DBPath            string
	JWTSecret         string
	ReconcileInterval time.Duration
	FundingQueueSize  int
	Balance           balance.Config
}

func loadConfig() config {
	cfg := config{
		Port:              envOr("PORT", "8080"),
		DBPath:            envOr("DB_PATH", "autoinvest.db"),
		JWTSecret:         envOr("JWT_SECRET", "autoinvest-secret-key"),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", time.Minute),
		FundingQueueSize:  envInt("FUNDING_QUEUE_SIZE", 64),
		Balance:           balance.DefaultConfig(),
	}
	if v := os.Getenv("BALANCE_SAFETY_BUFFER"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Balance.SafetyBuffer = d
		}
	}
	if v := os.Getenv("LOW_BALANCE_RATIO"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			cfg.Balance.LowBalanceRatio = d
		}
	}
	cfg.Balance.FundingCooldown = envDuration("FUNDING_COOLDOWN", cfg.Balance.FundingCooldown)
	cfg.Balance.BalanceTTL = envDuration("BALANCE_TTL", cfg.Balance.BalanceTTL)
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

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

// main initializes and runs the payment pipeline server with graceful
// shutdown support: database, exchange registry, event bus, pipeline
// services and the API routes.
func main() {
	cfg := loadConfig()

	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	registry := buildRegistry()
	bus := events.NewBus()
	rex := resilience.NewExecutor()

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	sink := events.NewNotificationSink(bus)
	sink.Start(backgroundCtx)

	requester := balance.NewRequester(bus, cfg.Balance.FundingCooldown, cfg.FundingQueueSize)
	requester.Start(backgroundCtx)

	gate := balance.NewGate(cfg.Balance, registry, requester, rex)
	orderExec := orders.NewExecutor(db, bus, rex, registry)
	processor := allocation.NewProcessor(db, orderExec, gate, registry, rex)
	guard := idempotency.NewGuard(db)
	eventLog := events.NewLog(db)
	orchestrator := payments.NewOrchestrator(db, guard, processor, eventLog, bus, rex)

	reconciler := reconciliation.NewProcessor(orderExec, registry, rex, cfg.ReconcileInterval)
	go reconciler.Start(backgroundCtx)

	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize handlers
	authHandlers := auth.NewGinHandlers(authService)
	paymentHandlers := payments.NewGinHandlers(orchestrator, orderExec.DB(), processor.DB())
	orderHandlers := orders.NewGinHandlers(orderExec)
	reconcileHandlers := reconciliation.NewGinHandlers(reconciler)
	fundingHandlers := balance.NewGinHandlers(requester)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.JWTSecret, authHandlers, paymentHandlers, orderHandlers, reconcileHandlers, fundingHandlers)

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

	backgroundCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// buildRegistry configures the exchanges and the asset routing table. Until
// live venue integrations land, simulated exchanges with realistic latency
// and liquidity behavior stand in.
func buildRegistry() *exchange.Registry {
	registry := exchange.NewRegistry()

	binance := exchange.NewSimulated("binance", "USDT")
	binance.MinLatency = 20
	binance.MaxLatency = 120
	binance.SuccessRate = 0.98
	binance.LiquidityFactor = 0.95
	binance.SetBalance("USDT", decimal.NewFromInt(250_000))
	binance.SetPrice("BTCUSDT", decimal.NewFromInt(65_000))
	binance.SetPrice("ETHUSDT", decimal.NewFromInt(3_400))
	registry.RegisterExchange(binance)

	kraken := exchange.NewSimulated("kraken", "USDC")
	kraken.MinLatency = 30
	kraken.MaxLatency = 200
	kraken.SuccessRate = 0.97
	kraken.LiquidityFactor = 0.9
	kraken.SetBalance("USDC", decimal.NewFromInt(100_000))
	kraken.SetPrice("SOLUSDC", decimal.NewFromInt(150))
	kraken.SetPrice("DOTUSDC", decimal.NewFromInt(7))
	registry.RegisterExchange(kraken)

	routes := map[string]string{
		"BTC": "binance",
		"ETH": "binance",
		"SOL": "kraken",
		"DOT": "kraken",
	}
	for asset, venue := range routes {
		if err := registry.RegisterAsset(asset, venue); err != nil {
			zlog.Fatal().Err(err).Str("asset", asset).Msg("Failed to register asset route")
		}
	}
	return registry
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Payment/order routes: Protected by JWT authentication
// - Internal routes: Operator tooling protected by internal auth
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	paymentHandlers *payments.GinHandlers,
	orderHandlers *orders.GinHandlers,
	reconcileHandlers *reconciliation.GinHandlers,
	fundingHandlers *balance.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Payment routes
		paymentGroup := v1.Group("/payments")
		paymentGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			paymentGroup.POST("", paymentHandlers.PaymentWebhookHandler())
			paymentGroup.GET("/:payment_id/results", paymentHandlers.GetPaymentResultsHandler())
		}

		// Subscription allocation plans
		subscriptionGroup := v1.Group("/subscriptions")
		subscriptionGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			subscriptionGroup.PUT("/:subscription_id/allocations", paymentHandlers.SetAllocationsHandler())
			subscriptionGroup.GET("/:subscription_id/allocations", paymentHandlers.GetAllocationsHandler())
		}

		// Order inspection routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.GET("/chain/:payment_id/:asset_id", orderHandlers.GetOrderChainHandler())
		}
	}

	// Internal routes (should also be protected by internal network)
	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuth(jwtSecret))
	{
		internal.POST("/payments/:payment_id/process", paymentHandlers.ReprocessPaymentHandler())
		internal.POST("/events/replay", paymentHandlers.ReplayEventsHandler())
		internal.POST("/reconciliation/run", reconcileHandlers.RunHandler())
		internal.GET("/funding/pending", fundingHandlers.PendingFundingHandler())
		internal.POST("/funding/:exchange/acknowledge", fundingHandlers.AcknowledgeFundingHandler())
	}
}
