/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Seed settings on first start
  5. Import the rate file, if configured
  6. Create API handler, router and pay-run scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -rates   Rate document imported at startup (overrides RATES_FILE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the pay-run scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database and country X rates
  ./server -db="./data/payroll.db" -rates=./rates/country-x.yaml

  # Run with in-memory database, JSON logs at debug level
  LOG_LEVEL=debug ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	ratesFile := flag.String("rates", cfg.RatesFile, "Rate document imported at startup")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *port, *dbPath, *ratesFile, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, port int, dbPath, ratesFile string, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if err := seedSettings(ctx, store, cfg.Payroll, logger); err != nil {
		return err
	}

	rates := payroll.NewRateConfigStore(store, payroll.WithLogger(logger))
	engine := payroll.NewEngine(store, rates, store, store, payroll.WithLogger(logger))

	if ratesFile != "" {
		if err := importRates(ctx, rates, ratesFile, logger); err != nil {
			return err
		}
	}

	handler := api.NewHandler(store, engine, cfg.Payroll, logger)
	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.CORSOrigins})

	handler.PayRun.Enabled = cfg.PayRunEnabled
	handler.PayRun.CheckInterval = cfg.PayRunInterval
	handler.PayRun.Start()
	defer handler.PayRun.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", port), zap.String("db", dbPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seedSettings stores the configured settings unless settings already exist.
func seedSettings(ctx context.Context, store *sqlite.Store, settings payroll.Settings, logger *zap.Logger) error {
	_, ok, err := store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if ok {
		return nil
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid payroll settings: %w", err)
	}
	if err := store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	logger.Info("settings seeded", zap.Stringer("settings", settings))
	return nil
}

func importRates(ctx context.Context, rates *payroll.RateConfigStore, path string, logger *zap.Logger) error {
	inputs, err := factory.LoadRateFile(path)
	if err != nil {
		return fmt.Errorf("load rates %s: %w", path, err)
	}
	for _, in := range inputs {
		table, err := rates.ImportTable(ctx, in)
		if err != nil {
			return fmt.Errorf("import rates %s (%s %s): %w", path, in.Country, in.EffectiveDate, err)
		}
		logger.Info("rate table imported",
			zap.String("country", table.Country),
			zap.String("effective_date", table.EffectiveDate.Format(payroll.DateLayout)),
			zap.Int("brackets", len(table.Brackets)))
	}
	return nil
}
