package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/config"
	"github.com/kmrasmussen/intersebd-sub000/internal/gemini"
	"github.com/kmrasmussen/intersebd-sub000/internal/handler"
	"github.com/kmrasmussen/intersebd-sub000/internal/hub"
	"github.com/kmrasmussen/intersebd-sub000/internal/llm"
	"github.com/kmrasmussen/intersebd-sub000/internal/logger"
	"github.com/kmrasmussen/intersebd-sub000/internal/middleware"
	"github.com/kmrasmussen/intersebd-sub000/internal/openrouter"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"
	"github.com/kmrasmussen/intersebd-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Mode, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Starting annotation API...")

	llm.RegisterFactory(llm.ProviderOpenRouter, openrouter.Factory)
	llm.RegisterFactory(llm.ProviderGroq, openrouter.Factory)
	llm.RegisterFactory(llm.ProviderOpenAI, openrouter.Factory)
	llm.RegisterFactory(llm.ProviderGemini, gemini.Factory)

	// Provider chain for the proxy and the widget relay
	var provider llm.Provider
	if len(cfg.Providers) > 0 {
		multiClient, err := llm.NewMultiProviderClient(llm.MultiProviderConfig{
			Providers:   cfg.Providers,
			MaxFailures: cfg.MaxFailuresBeforeSwitch,
		}, log)
		if err != nil {
			log.Warn("No completion provider available, proxy disabled", zap.Error(err))
		} else {
			provider = multiClient
			defer multiClient.Close()
			log.Info("Multi-provider client initialized",
				zap.Int("provider_count", len(cfg.Providers)))
		}
	} else {
		log.Warn("No providers configured, proxy disabled")
	}

	// Initialize repository
	repo, err := repository.NewRepository(cfg.Database.Type, cfg.Database.Path, log)
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	// Initialize service
	svc := service.New(repo, provider, hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.Timeout, log), log)

	if cfg.Server.SessionSecret == "dev-session-secret" && cfg.Mode == "prod" {
		log.Fatal("Refusing to start in prod with the development session secret")
	}
	sessions := middleware.NewSessions(cfg.Server.SessionSecret, cfg.API.SessionCookie, cfg.Server.SecureCookies, svc, log)

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(svc, sessions, handler.Options{
		FrontendOrigins: cfg.Server.FrontendOrigins,
		PublicBaseURL:   cfg.Widget.PublicBaseURL,
		AllowDevLogin:   cfg.Mode != "prod",
	}, log)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// Register routes
	apiHandler.RegisterRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	modelName := "none"
	if provider != nil {
		if m, ok := provider.GetModelInfo()["model"].(string); ok {
			modelName = m
		}
	}
	log.Info("Annotation API is running",
		zap.String("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Type),
		zap.String("model", modelName))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
