/*
Package config loads server configuration from the environment.

PURPOSE:
  One place that knows every environment key the server reads and its
  default. A .env file in the working directory is loaded first if present;
  real environment variables win over it.

KEYS:
  ENVIRONMENT              development | production (default development)
  SERVER_PORT              HTTP port (default 8080)
  STORE_DRIVER             memory | sqlite | postgres (default memory)
  SQLITE_PATH              database file for sqlite (default funds.db)
  DB_SOURCE                postgres connection string
  NOTIFIER                 log | redis | kafka | multi (default log)
  REDIS_ADDR, REDIS_PASS   redis server for the redis notifier
  REDIS_CHANNEL            pub/sub channel (default funds.notifications)
  KAFKA_BROKERS            comma-separated brokers for the kafka notifier
  KAFKA_TOPIC              topic (default funds.notifications)
  NOTIFY_QUEUE_SIZE        async notification queue (default 1024)
  NOTIFY_WORKERS           async notification workers (default 4)
  JWT_SECRET               HS256 signing secret (required outside development)
  JWT_ISSUER               expected token issuer (default funds-engine)
  RECONCILE_INTERVAL       reconciliation period, 0 disables (default 1h)
  CLAIM_LEASE              how long one decision may hold a request (default 30s)
  CURRENCY                 default currency (default USD)
  HIGH_PRIORITY_THRESHOLD  amount at which notifications are high priority
  CORS_ORIGINS             comma-separated allowed origins (default *)

SEE ALSO:
  - cmd/server/main.go: Flags override some of these
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Notifier backends.
const (
	NotifierLog   = "log"
	NotifierRedis = "redis"
	NotifierKafka = "kafka"
	NotifierMulti = "multi"
)

// DevJWTSecret is used in development when JWT_SECRET is unset.
const DevJWTSecret = "dev-only-secret-change-me"

type Config struct {
	Environment string
	Port        string

	StoreDriver string
	SQLitePath  string
	DBSource    string

	Notifier        string
	RedisAddr       string
	RedisPass       string
	RedisChannel    string
	KafkaBrokers    []string
	KafkaTopic      string
	NotifyQueueSize int
	NotifyWorkers   int

	JWTSecret string
	JWTIssuer string

	ReconcileInterval     time.Duration
	ClaimLease            time.Duration
	Currency              string
	HighPriorityThreshold ledger.Amount
	CORSOrigins           []string
}

// Load reads .env (if any) and the environment. Malformed numeric values
// are errors rather than silently defaulted.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  strings.ToLower(getEnv("ENVIRONMENT", "development")),
		Port:         getEnv("SERVER_PORT", "8080"),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		SQLitePath:   getEnv("SQLITE_PATH", "funds.db"),
		DBSource:     getEnv("DB_SOURCE", ""),
		Notifier:     strings.ToLower(getEnv("NOTIFIER", NotifierLog)),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "funds.notifications"),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "funds.notifications"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTIssuer:    getEnv("JWT_ISSUER", "funds-engine"),
		Currency:     strings.ToUpper(getEnv("CURRENCY", "USD")),
		CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"*"}),
	}

	var err error
	if cfg.NotifyQueueSize, err = getEnvInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = getEnvInt("NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ClaimLease, err = getEnvDuration("CLAIM_LEASE", ledger.DefaultClaimLease); err != nil {
		return nil, err
	}
	threshold := getEnv("HIGH_PRIORITY_THRESHOLD", ledger.DefaultHighPriorityThreshold.String())
	if cfg.HighPriorityThreshold, err = ledger.ParseAmount(threshold); err != nil {
		return nil, fmt.Errorf("HIGH_PRIORITY_THRESHOLD: %w", err)
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = DevJWTSecret
	}
	return cfg, nil
}

// IsDevelopment reports whether dev-only routes and defaults apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DBSource == "" {
			errs = append(errs, errors.New("DB_SOURCE is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis notifier"))
		}
	case NotifierKafka, NotifierMulti:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.HighPriorityThreshold.IsNegative() {
		errs = append(errs, errors.New("HIGH_PRIORITY_THRESHOLD must not be negative"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must not be negative"))
	}
	if c.ClaimLease <= 0 {
		errs = append(errs, errors.New("CLAIM_LEASE must be positive"))
	}
	return errors.Join(errs...)
}

// NewLogger returns a development logger in development and a JSON
// production logger otherwise.
func NewLogger(environment string) (*zap.Logger, error) {
	switch strings.ToLower(environment) {
	case "development", "dev":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
