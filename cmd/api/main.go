package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sjperalta/custodia-api/docs" // Swagger docs

	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/database"
	"github.com/sjperalta/custodia-api/internal/handlers"
	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/middleware"
	"github.com/sjperalta/custodia-api/internal/services"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// @title Custodia API
// @version 1.0
// @description Asset movements, discrepancy reconciliation and the audit ledger
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment, cfg.LogLevel)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()

	// Per-asset locks: Redis when several instances share the store
	var assetLocker locker.Locker = locker.NewLocalLocker()
	if cfg.RedisAddress != "" {
		redisLocker, err := locker.NewRedisLocker(startCtx, cfg.RedisAddress, cfg.StoreTimeout+cfg.LockTimeout)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		assetLocker = redisLocker
		logger.Info("Using Redis asset locks", "address", cfg.RedisAddress)
	}

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount, jobs.WithJobTimeout(cfg.JobTimeout))
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Notification sinks
	sinks := []services.Sink{services.LogSink{}}
	if cfg.ResendAPIKey != "" && len(cfg.NotifyEmails) > 0 {
		sinks = append(sinks, services.NewEmailService(cfg))
	} else {
		logger.Warn("Email notifications disabled: RESEND_API_KEY or NOTIFY_EMAILS not set")
	}
	var pubsubSink *services.PubSubSink
	if cfg.PubSubProjectID != "" && cfg.PubSubTopic != "" {
		pubsubSink, err = services.NewPubSubSink(startCtx, cfg.PubSubProjectID, cfg.PubSubTopic)
		if err != nil {
			logger.Error("Failed to initialize Pub/Sub sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, pubsubSink)
	}

	// Initialize services
	svcs := services.NewServices(db, assetLocker, worker, cfg, sinks...)

	// Schedule recurring jobs
	svcs.Job.ScheduleAuditVerification(cfg.AuditVerifyInterval)

	// Initialize handlers
	h := handlers.NewHandlers(svcs, db)

	// Setup router
	router := setupRouter(h, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drains queued notifications before the sinks close
	worker.Shutdown()
	logger.Info("Background worker stopped")

	if pubsubSink != nil {
		if err := pubsubSink.Close(); err != nil {
			logger.Error("Pub/Sub client close failed", "error", err)
		}
	}

	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	v1 := router.Group("/api/v1")
	{
		// Redirect root to swagger
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
		})

		// Swagger documentation
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

		// Health check (public)
		v1.GET("/health", h.Health.Index)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret))
		{
			// Reads: any authenticated actor
			protected.GET("/assets", h.Asset.Index)
			protected.GET("/assets/:asset_id", h.Asset.Show)
			protected.GET("/assets/by_tag/:asset_tag", h.Asset.ShowByTag)
			protected.GET("/movements", h.Movement.Index)
			protected.GET("/movements/:movement_id", h.Movement.Show)
			protected.GET("/discrepancies", h.Discrepancy.Index)
			protected.GET("/discrepancies/:discrepancy_id", h.Discrepancy.Show)

			// Identity provider reports logins and logouts for any actor
			protected.POST("/audit/sessions", h.Audit.RecordSession)

			operator := protected.Group("")
			operator.Use(middleware.RequireRole(middleware.RoleOperator))
			{
				operator.POST("/assets", h.Asset.Create)
				operator.PATCH("/assets/:asset_id", h.Asset.Update)

				operator.POST("/movements", h.Movement.Create)
				operator.POST("/movements/:movement_id/complete", h.Movement.Complete)
				operator.POST("/movements/:movement_id/cancel", h.Movement.Cancel)
				operator.DELETE("/movements/:movement_id", h.Movement.Delete)

				operator.POST("/discrepancies", h.Discrepancy.Create)
				operator.POST("/discrepancies/:discrepancy_id/start", h.Discrepancy.Start)
				operator.POST("/discrepancies/:discrepancy_id/resolve", h.Discrepancy.Resolve)
			}

			approver := protected.Group("")
			approver.Use(middleware.RequireRole(middleware.RoleApprover))
			{
				approver.POST("/movements/:movement_id/approve", h.Movement.Approve)
				approver.POST("/movements/:movement_id/reject", h.Movement.Reject)
				approver.POST("/discrepancies/:discrepancy_id/close", h.Discrepancy.Close)
			}

			scanner := protected.Group("")
			scanner.Use(middleware.RequireRole(middleware.RoleScanner, middleware.RoleOperator))
			{
				scanner.POST("/scans", h.Scan.Create)
			}

			auditor := protected.Group("/audit")
			auditor.Use(middleware.RequireRole(middleware.RoleAuditor, middleware.RoleApprover))
			{
				auditor.GET("", h.Audit.Index)
				auditor.GET("/verify", h.Audit.Verify)
			}

			// Admin-only routes
			admin := protected.Group("")
			admin.Use(middleware.RequireRole(middleware.RoleAdmin))
			{
				admin.DELETE("/assets/:asset_id", h.Asset.Delete)
				admin.GET("/jobs/status", h.Job.Status)
				admin.POST("/jobs/verify_audit", h.Job.VerifyAudit)
			}
		}
	}

	return router
}
