package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexuschat/relay/internal/auth"
	"github.com/nexuschat/relay/internal/relay"
	"github.com/nexuschat/relay/internal/server"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)
	logger := server.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	verifier := auth.NewJWT(cfg.TokenSecret)

	hub := relay.NewHub(logger, relay.Options{
		MaxRoomIDLength: cfg.MaxRoomIDLength,
		MaxMessageSize:  cfg.MaxMessageSize,
		SendBufferSize:  cfg.SendBufferSize,
		ChatEcho:        cfg.ChatEcho,
	})
	go hub.Run()

	handlers := server.NewHandlers(hub, verifier, logger)
	mux := server.SetupRoutes(handlers)
	srv := server.CreateServer(cfg.Port, mux)

	go func() {
		if err := server.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server crashed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Stop accepting new connections, then notify and close live ones.
	if err := server.ShutdownServer(srv, 10*time.Second); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if err := hub.Shutdown(5 * time.Second); err != nil {
		logger.Error("hub shutdown", "err", err)
	}

	logger.Info("shutdown complete")
}
