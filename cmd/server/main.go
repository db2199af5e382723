/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load TOML config
  2. Configure logging
  3. Initialize SQLite store
  4. Wire engine, sweeper, metrics, API handler
  5. Start the sweep scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config path (default: credit-ledger.toml; missing file uses defaults)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/credits.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/warp/credit-ledger/api"
	"github.com/warp/credit-ledger/config"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "credit-ledger.toml", "TOML config path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := newLogger(cfg.Log)

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := ledger.NewMetrics(registry)

	// Engine and sweeper
	opts := ledger.EngineOptions{
		Metrics: metrics,
		Logger:  logrus.NewEntry(log),
		Codes: &ledger.CodeGenerator{
			Checker:     store,
			Prefix:      cfg.Codes.Prefix,
			MaxAttempts: cfg.Codes.MaxAttempts,
		},
	}
	engine := ledger.NewEngine(store, opts)
	sweeper := ledger.NewSweeper(store, engine, opts)

	// HTTP
	handler := api.NewHandler(engine, store, sweeper, logrus.NewEntry(log))
	router := api.NewRouter(handler, api.RouterOptions{
		Registry:       registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background sweep
	scheduler := api.NewSweepScheduler(sweeper, logrus.NewEntry(log))
	scheduler.Interval = cfg.Sweep.Interval.Duration
	scheduler.ExpiringWindow = cfg.ExpiringWindow()
	scheduler.Enabled = cfg.Sweep.Enabled
	scheduler.Start()

	go func() {
		log.WithField("addr", cfg.ListenAddr()).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	scheduler.Stop()

	log.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
