package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/handler"
	"github.com/AnTengye/contractforge/middleware"
	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/AnTengye/contractforge/service"
	"github.com/AnTengye/contractforge/storage/postgres"
	"github.com/AnTengye/contractforge/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; its values feed the CONTRACTFORGE_* overrides
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env", "error", err)
	}

	configPath := os.Getenv("CONTRACTFORGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "store", cfg.Store.Driver)

	ctx := context.Background()

	store, err := openStore(ctx, &cfg.Store)
	if err != nil {
		slog.Error("failed to open document store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var archive service.Archive
	if cfg.Minio.Enabled() {
		minioArchive, err := service.NewMinioArchive(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize MINIO archive", "error", err)
			os.Exit(1)
		}
		if err := minioArchive.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure MINIO bucket", "error", err)
			os.Exit(1)
		}
		archive = minioArchive
	} else {
		slog.Info("executed contract archiving disabled")
	}

	var notifier service.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = service.NewWebhookNotifier(&cfg.Notify)
	}

	renderer := service.Renderer{DefaultState: cfg.Signing.DefaultState}
	signingSvc := service.NewSigningService(store, renderer, archive, notifier)
	contractSvc := service.NewContractService(store, signingSvc, renderer, service.NewLinkSigner(&cfg.Signing), archive)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler(contractSvc, signingSvc)
	signingHandler := handler.NewSigningHandler(contractSvc, signingSvc)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	router.Use(middleware.RequestID())     // Request ID for tracing
	router.Use(middleware.Recovery())      // Panic recovery
	router.Use(middleware.RequestLogger()) // Access logging
	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	}
	router.Use(noStoreMiddleware())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

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
		api.POST("/auth/login", authHandler.Login)
	}

	// Signing links, keyed per link and client
	sign := api.Group("/sign/:link")
	sign.Use(middleware.RateLimitBy(cfg.Server.SignRateLimit, time.Minute, func(c *gin.Context) string {
		return c.Param("link") + "|" + c.ClientIP()
	}))
	{
		sign.GET("", signingHandler.Status)
		sign.GET("/document", signingHandler.Document)
		sign.POST("", signingHandler.Submit)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/contracts", contractHandler.Create)
		protected.POST("/contracts/preview", contractHandler.Preview)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.GET("/contracts/:id/document", contractHandler.Document)
		protected.POST("/contracts/:id/negotiation", contractHandler.Negotiate)
		protected.POST("/contracts/:id/revise", contractHandler.Revise)
		protected.POST("/contracts/:id/finalize", contractHandler.Finalize)
		protected.POST("/contracts/:id/share", contractHandler.Share)
		protected.GET("/contracts/:id/executed", contractHandler.Executed)
		protected.DELETE("/contracts/:id", contractHandler.Delete)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}
	signingSvc.Wait()

	slog.Info("server exited gracefully")
}

// openStore opens the document store selected by cfg.Driver.
func openStore(ctx context.Context, cfg *config.StoreConfig) (service.DocumentStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return service.NewMemoryStore(cfg.MaxDocuments), nil
	}
}

// noStoreMiddleware keeps contract bodies and signatures out of shared caches
func noStoreMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
