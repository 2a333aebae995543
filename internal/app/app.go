// Package app provides application lifecycle management for the sync
// server and agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classboard/observesync/internal/config"
)

// ServerApp encapsulates all components needed to run the reconciliation
// server. It provides lifecycle management and graceful shutdown.
type ServerApp struct {
	config     *config.Config
	httpServer *http.Server
	pool       *pgxpool.Pool

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the HTTP server. This method blocks until the server stops
// or encounters an error.
func (app *ServerApp) Start() error {
	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application with the given timeout.
func (app *ServerApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server")

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)

	if app.pool != nil {
		app.pool.Close()
	}

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *ServerApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the
// actual port)
func (app *ServerApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
