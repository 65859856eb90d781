package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"credsync/internal/common/logging"
	"credsync/internal/config"
	"credsync/internal/handlers"
	"credsync/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting credsync")

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	application, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	// Arm the in-process refresh timer when no external scheduler is wired
	if err := application.StartScheduler(); err != nil {
		logging.Error("Failed to start scheduler", err)
		return err
	}

	// Set up HTTP API
	var redisHealth handlers.HealthChecker
	if application.RedisClient != nil {
		redisHealth = application.RedisClient
	}
	h := handlers.New(application.Store, application.Coordinator, cfg, redisHealth, application.Logger)

	router := mux.NewRouter()
	SetupRoutes(router, h, application.Auth.RequireAuth)

	srv := server.New(router, cfg.Port, application.Logger)
	serverErr := srv.Start()

	// Wait for interrupt signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logging.Info("Shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-serverErr:
		if err != nil {
			logging.Error("HTTP server failed", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}

	if err := application.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err})
	}

	logging.Info("Server exited")
	return nil
}
