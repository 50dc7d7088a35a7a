package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/audit"
	"github.com/lucidbank/backend/internal/config"
	"github.com/lucidbank/backend/internal/database"
	"github.com/lucidbank/backend/internal/dispatcher"
	"github.com/lucidbank/backend/internal/gateway"
	"github.com/lucidbank/backend/internal/httpapi"
	"github.com/lucidbank/backend/internal/ledger"
	mW "github.com/lucidbank/backend/internal/middleware"
	"github.com/lucidbank/backend/internal/session"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	instanceID := uuid.NewString()
	logger = logger.With(zap.String("instance_id", instanceID))

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

	directory := session.NewDirectory(redisClient, cfg.StackName, instanceID)
	bus := session.NewBus(redisClient, logger, cfg.StackName, instanceID)
	producer := audit.NewProducer(redisClient, cfg.StackName)
	ledgerService := ledger.NewService(db, producer, logger)
	disp := dispatcher.New(ledgerService, directory, cfg.TenantID, logger)
	gw := gateway.New(directory, bus, disp, ledgerService, logger, cfg.JWT.SecretKey, cfg.TenantID)
	api := httpapi.NewHandler(ledgerService, cfg.TenantID, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		logger.Fatal("bus subscription failed", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "instanceId": instanceID})
	})

	r.Get("/ws", gw.HandleWS)

	r.Route("/api/v1/banking", func(r chi.Router) {
		r.Use(mW.Auth(cfg.JWT.SecretKey))
		api.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// The bus unsubscribes first so no frame lands on a closing socket.
	if err := gw.Stop(); err != nil {
		logger.Warn("gateway stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
