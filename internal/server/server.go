// Package server constructs and starts the relay HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port
// and handler. It sets reasonable timeout values for production use. Write
// timeouts do not apply to hijacked WebSocket connections.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns an error if the server fails to start.
func StartServer(server *http.Server) error {
	slog.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active connections. It waits until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	slog.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown", "err", err)
		return err
	}

	slog.Info("http server shutdown complete")
	return nil
}
