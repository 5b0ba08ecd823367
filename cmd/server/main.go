/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the back-office API server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize logger and SQLite store
  3. Create the loyalty ledger and API handler
  4. Configure HTTP router and expiration scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: backoffice.db)
                  Use ":memory:" for an in-memory database
  -sweep-interval How often the expiration sweep runs (default: 1h)
  -no-sweep       Disable the background expiration scheduler
  -dev            Development logging (human-readable, debug level)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the sweep scheduler and wait for an in-flight sweep
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/backoffice.db"

  # Run with in-memory database, no background sweep
  ./server -db=":memory:" -no-sweep

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Expiration scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/movums/backoffice/api"
	"github.com/movums/backoffice/audit"
	"github.com/movums/backoffice/loyalty"
	"github.com/movums/backoffice/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "backoffice.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "How often the expiration sweep runs")
	noSweep := flag.Bool("no-sweep", false, "Disable the background expiration scheduler")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	// Logger
	var logger *zap.Logger
	var err error
	if *dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Domain services
	ledger := loyalty.NewLedger(store, logger.Named("loyalty"))
	trail := audit.NewZapTrail(logger.Named("audit"))
	handler := api.NewHandler(store, ledger, trail, logger.Named("api"))

	// Background expiration sweep
	scheduler := api.NewSweepScheduler(ledger, logger.Named("scheduler"))
	scheduler.CheckInterval = *sweepInterval
	scheduler.Enabled = !*noSweep
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
