/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the service charge engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config (.env supported)
  2. Initialize structured logger
  3. Open SQLite store, wrap the rate store with the in-process cache
  4. Build the calculator and HTTP router
  5. Start server with graceful shutdown

ENVIRONMENT:
  PORT               HTTP server port (default 8080)
  DATABASE_PATH      SQLite database path (default charges.db,
                     ":memory:" for in-memory)
  LOG_LEVEL          debug|info|warn|error (default info)
  CALCULATION_MODE   monthly|quarterly|yearly (default quarterly)
  CURRENCY_SCALE     decimal places for charge amounts (default 2)
  ROUNDING_MODE      half-up|half-even (default half-up)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/charge-engine/api"
	"github.com/warp/charge-engine/charge"
	"github.com/warp/charge-engine/config"
	"github.com/warp/charge-engine/logger"
	"github.com/warp/charge-engine/store/ratecache"
	"github.com/warp/charge-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to initialize database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rates := ratecache.New(store)
	calc := charge.NewCalculator(store, store, store, rates, cfg.Currency(), log)

	handler := api.NewHandler(calc, cfg.CalculationMode, store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			"addr", server.Addr,
			"mode", string(cfg.CalculationMode),
			"db", cfg.DatabasePath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}
