package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/handler"
	"github.com/provinciadigital41-cpu/provincia/job"
	"github.com/provinciadigital41-cpu/provincia/middleware"
	"github.com/provinciadigital41-cpu/provincia/pkg/logger"
	"github.com/provinciadigital41-cpu/provincia/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	pipefySvc := service.NewPipefyService(&cfg.Pipefy)
	d4Svc := service.NewD4SignService(&cfg.D4Sign)

	vaults, err := service.NewVaultResolver(cfg.Vaults, cfg.D4Sign.DefaultSafeID)
	if err != nil {
		slog.Error("failed to build vault resolver", "error", err)
		os.Exit(1)
	}

	locker, err := service.NewRunLocker(&cfg.Lock)
	if err != nil {
		slog.Error("failed to initialize run locker", "error", err)
		os.Exit(1)
	}

	store, err := service.NewRunStore(&cfg.Store)
	if err != nil {
		slog.Error("failed to initialize run store", "error", err)
		os.Exit(1)
	}

	var archive *service.ArchiveService
	if cfg.Archive.Enabled() {
		archive, err = service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize archive service", "error", err)
			os.Exit(1)
		}
		if err := archive.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
	}

	pipeline := service.NewPipeline(cfg, pipefySvc, d4Svc, vaults)

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(cfg, pipefySvc, pipeline, locker, store, archive)
	runsHandler := handler.NewRunsHandler(store)
	authHandler := handler.NewAuthHandler(cfg)

	// Start the retention job
	retention, err := job.StartRetention(store, &cfg.Store)
	if err != nil {
		slog.Error("failed to start retention job", "error", err)
		os.Exit(1)
	}
	defer retention.Stop()

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.GET("/webhook/pipefy", webhookHandler.Liveness)
		api.POST("/webhook/pipefy", webhookHandler.HandleTrigger)
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.GET("/runs", runsHandler.List)
		protected.GET("/runs/:id", runsHandler.Get)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
