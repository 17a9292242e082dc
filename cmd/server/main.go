/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the funds engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store (memory, sqlite or postgres)
  3. Build the notifier chain behind an async queue
  4. Create the engine, API handler and router
  5. Start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (SERVER_PORT)
  -store   memory | sqlite | postgres (STORE_DRIVER)
  -db      SQLite database path (SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and drain queued notifications
  4. Close the store
  5. Exit

EXAMPLES:
  # Development with the in-memory store
  ./server

  # SQLite file
  ./server -store=sqlite -db="./data/funds.db"

  # Postgres and Kafka
  STORE_DRIVER=postgres DB_SOURCE=postgres://... NOTIFIER=kafka ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/funds-engine/api"
	"github.com/warp/funds-engine/config"
	"github.com/warp/funds-engine/ledger"
	"github.com/warp/funds-engine/ledger/store"
	"github.com/warp/funds-engine/notify"
	"github.com/warp/funds-engine/store/postgres"
	"github.com/warp/funds-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	driver := flag.String("store", cfg.StoreDriver, "Store driver: memory, sqlite or postgres")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.StoreDriver, cfg.SQLitePath = *port, strings.ToLower(*driver), *dbPath

	logger, err := config.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize store
	st, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	// Notifications
	target, closers, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize notifier", zap.String("notifier", cfg.Notifier), zap.Error(err))
	}
	notifier := notify.NewAsync(target, logger, notify.AsyncOptions{
		QueueSize: cfg.NotifyQueueSize,
		Workers:   cfg.NotifyWorkers,
	})
	notifier.Start()

	// Engine and API
	engine := ledger.NewEngine(st, st, notifier, logger)
	engine.Currency = cfg.Currency
	engine.HighPriorityThreshold = cfg.HighPriorityThreshold
	engine.ClaimLease = cfg.ClaimLease

	handler := api.NewHandler(engine, st, logger)
	handler.Reconciliation.CheckInterval = cfg.ReconcileInterval
	handler.Reconciliation.Enabled = cfg.ReconcileInterval > 0
	handler.Reconciliation.Start()

	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	router := api.NewRouter(handler, auth, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Development: cfg.IsDevelopment(),
	})

	if cfg.IsDevelopment() {
		if tok, err := auth.IssueToken("dev-admin", api.RoleAdmin, 24*time.Hour); err == nil {
			logger.Info("development admin token", zap.String("token", tok))
		}
	}

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("store", cfg.StoreDriver),
			zap.String("notifier", cfg.Notifier))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	handler.Reconciliation.Stop()
	if err := notifier.Stop(ctx); err != nil {
		logger.Warn("notifications not fully drained", zap.Error(err))
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("notifier close failed", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

// buildNotifier assembles the delivery target and whatever must be closed
// on shutdown.
func buildNotifier(cfg *config.Config, logger *zap.Logger) (ledger.Notifier, []io.Closer, error) {
	var closers []io.Closer

	newRedis := func() (*notify.Redis, error) {
		var client *redis.Client
		if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
			c, err := notify.NewRedisClient(cfg.RedisAddr)
			if err != nil {
				return nil, err
			}
			client = c
		} else {
			client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		}
		closers = append(closers, client)
		return notify.NewRedis(client, cfg.RedisChannel), nil
	}
	newKafka := func() *notify.Kafka {
		k := notify.NewKafka(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
		closers = append(closers, k)
		return k
	}

	switch cfg.Notifier {
	case config.NotifierRedis:
		r, err := newRedis()
		return r, closers, err
	case config.NotifierKafka:
		return newKafka(), closers, nil
	case config.NotifierMulti:
		r, err := newRedis()
		if err != nil {
			return nil, closers, err
		}
		return notify.Multi{notify.NewLog(logger), r, newKafka()}, closers, nil
	default:
		return notify.NewLog(logger), closers, nil
	}
}
