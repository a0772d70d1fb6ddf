package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chessarcade/leaderboard/internal/config"
	"github.com/chessarcade/leaderboard/internal/handler"
	"github.com/chessarcade/leaderboard/internal/kafka"
	"github.com/chessarcade/leaderboard/internal/postgres"
	"github.com/chessarcade/leaderboard/internal/ratelimit"
	"github.com/chessarcade/leaderboard/internal/redis"
	"github.com/chessarcade/leaderboard/internal/service"
	"github.com/chessarcade/leaderboard/internal/sqlite"
	"github.com/chessarcade/leaderboard/internal/validate"
	"github.com/chessarcade/leaderboard/internal/websocket"
	"github.com/chessarcade/leaderboard/internal/worker"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}

	// Load configuration
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			log.Fatalf("invalid environment: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", *configPath, "error", loadErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: tint for text, JSON otherwise
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("building game registry: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter := openLimiter(cfg, logger)
	defer closeLimiter()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(reg.IDs(), logger)
	go wsHub.Run()

	// Initialize services
	guard := ratelimit.NewGuard(limiter, cfg.RateLimit.Read, cfg.RateLimit.Write, logger)
	leaderboardService := service.NewLeaderboardService(
		store,
		validate.New(reg, cfg.Leaderboard.Limits()),
		guard,
		cfg.Storage.Timeout,
		logger,
	)
	leaderboardService.SetNotifier(wsHub)

	// Start broadcast worker
	broadcaster := worker.NewBroadcaster(leaderboardService, wsHub, &cfg.Broadcast, logger)
	if cfg.Broadcast.Enabled {
		if err := broadcaster.Start(ctx); err != nil {
			return fmt.Errorf("starting broadcast worker: %w", err)
		}
	}

	// Initialize Kafka consumer for high-load score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Driver,
			"rate_limit", cfg.RateLimit.Backend,
			"games", len(reg.IDs()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutting down server...")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := broadcaster.Stop(); err != nil {
		logger.Error("failed to stop broadcast worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
	return runErr
}

// openStore connects the configured score store and runs its migrations
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, repo.Close, nil

	default:
		logger.Info("opening SQLite store", "path", cfg.Storage.SQLitePath)
		store, err := sqlite.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening SQLite store: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close SQLite store", "error", err)
			}
		}, nil
	}
}

// openLimiter returns the configured rate limit backend. An unreachable
// Redis falls back to the in-process limiter.
func openLimiter(cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func()) {
	if cfg.RateLimit.Backend == config.BackendRedis {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		limiter, err := redis.NewRateLimiter(&cfg.Redis, logger)
		if err == nil {
			return limiter, func() { _ = limiter.Close() }
		}
		logger.Warn("failed to connect to Redis, using in-memory rate limiter", "error", err)
	}
	return ratelimit.NewMemory(), func() {}
}
