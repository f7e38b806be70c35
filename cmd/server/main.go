package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"spot-exchange/internal/api"
	"spot-exchange/internal/auth"
	"spot-exchange/internal/config"
	"spot-exchange/internal/db"
	"spot-exchange/internal/engine"
	"spot-exchange/internal/logging"
	"spot-exchange/internal/store"
	"spot-exchange/internal/ws"
)

func main() {
	// Load environment variables if present (non-fatal).
	godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	logger.Info("database connection established")

	if err := db.Migrate(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	st := store.New(database)
	eng := engine.New(database, st, logger, hub)
	authManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	server := api.NewServer(database, eng, st, authManager, hub, logger)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	} else {
		logger.Info("server stopped gracefully")
	}
}
