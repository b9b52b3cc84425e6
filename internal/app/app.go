package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"billing_backend/database"
	"billing_backend/internal/config"
	"billing_backend/internal/handlers"
	"billing_backend/internal/logger"
	"billing_backend/internal/middleware"
	"billing_backend/internal/provider"
	"billing_backend/internal/repositories"
	"billing_backend/internal/routes"
	"billing_backend/internal/services"
	"billing_backend/internal/validator"
	"billing_backend/internal/workers"
)

const workerSweepInterval = time.Hour

func Run() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	gormDB, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal("Failed to get *sql.DB from GORM", "error", err)
	}
	if err = sqlDB.Ping(); err != nil {
		logger.Fatal("Database unavailable", "error", err)
	}
	logger.Info("Database connected")

	if err := database.AutoMigrate(gormDB); err != nil {
		logger.Fatal("Migration failed", "error", err)
	}

	payments := provider.NewStripeProvider(provider.StripeConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		ProductID:     cfg.Stripe.ProductID,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		PortalReturn:  cfg.Stripe.PortalReturn,
	})

	serviceContainer := services.NewServiceContainer(gormDB, payments, cfg)
	ginRouter := SetupRouter(cfg, serviceContainer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subRepo := repositories.NewSubscriptionRepository(gormDB)
	worker := workers.NewSubscriptionWorker(subRepo, serviceContainer.SubscriptionService, workerSweepInterval)
	worker.Start(ctx)

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: address, Handler: ginRouter}

	go func() {
		logger.Info("Server starting", "address", address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server startup error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}

// SetupRouter wires handlers and middleware into a gin engine.
func SetupRouter(cfg *config.Config, serviceContainer *services.ServiceContainer) *gin.Engine {
	appHandlers := handlers.NewAppHandlers(serviceContainer)

	if err := validator.Register(); err != nil {
		logger.Fatal("Validator setup failed", "error", err)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(middleware.RequestIDMiddleware())
	ginRouter.Use(middleware.LoggingMiddleware())

	routes.RegisterRoutes(ginRouter, appHandlers)
	return ginRouter
}
