package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/faqbot/console/internal/api"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/pkg/config"
	appLogger "github.com/faqbot/console/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting FAQ bot console gateway", zap.String("backend", cfg.Backend.BaseURL))

	metrics.Init()

	con, err := console.Build(cfg)
	if err != nil {
		appLogger.Fatal("Failed to build console", zap.Error(err))
	}
	defer con.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout())
	if con.Session.Restore(ctx) {
		appLogger.Info("Restored stored session", zap.String("email", con.Session.Current().User.Email))
		if _, err := con.LoadDashboard(ctx); err != nil {
			appLogger.Warn("Initial dashboard load failed", zap.Error(err))
		}
	}
	cancel()

	server := api.New(con, api.OptionsFrom(cfg.Server))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	done := make(chan struct{})
	go func() {
		if err := server.Shutdown(); err != nil {
			appLogger.Error("Shutdown failed", zap.Error(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		appLogger.Warn("Shutdown timed out")
	}
	appLogger.Info("Server stopped")
}
