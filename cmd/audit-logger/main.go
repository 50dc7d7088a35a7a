package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/audit"
	"github.com/lucidbank/backend/internal/config"
	"github.com/lucidbank/backend/internal/database"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.InitRedis(cfg.Redis)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := audit.NewLogger(db, redisClient, logger, cfg.StackName, cfg.Audit)

	logger.Info("audit logger started", zap.String("stack", cfg.StackName))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("audit logger failed", zap.Error(err))
	}
	logger.Info("audit logger stopped")
}
