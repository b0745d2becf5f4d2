package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burnerpost/creditd/service/config"
	"github.com/burnerpost/creditd/service/db"
	"github.com/burnerpost/creditd/service/metrics"
	natspkg "github.com/burnerpost/creditd/service/nats"
	"github.com/burnerpost/creditd/service/purchase"
	"github.com/burnerpost/creditd/service/server"
	"github.com/burnerpost/creditd/service/solana"
	"github.com/burnerpost/creditd/service/verify"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load .env if present; real deployments set env vars directly
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize metrics collector
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize database store
	store := db.NewStore(dbPool, m)

	// Initialize NATS publisher. Credit events are best-effort: the server
	// runs without them if NATS is unreachable.
	var publisher natspkg.Publisher
	jsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("NATS unavailable, credit events disabled", "url", cfg.NATSURL, "error", err)
	} else {
		publisher = jsPublisher
		defer jsPublisher.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	chainReader := solana.NewClient(solanaRPC, cfg.RPCTimeout, cfg.RPCMaxAttempts, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Initialize verifiers and the purchase orchestrator
	txVerifier, err := verify.NewTransactionVerifier(chainReader, cfg.CreditsProgramID, logger)
	if err != nil {
		logger.Error("failed to initialize transaction verifier", "error", err)
		os.Exit(1)
	}
	ixVerifier := verify.NewInstructionVerifier(chainReader, cfg.CreditsProgramID, logger)
	orchestrator := purchase.NewOrchestrator(store, txVerifier, ixVerifier, publisher, m, logger)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, store, orchestrator, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"program_id", cfg.CreditsProgramID.String(),
		"nats_url", cfg.NATSURL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
