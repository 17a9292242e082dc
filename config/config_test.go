package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"ENVIRONMENT", "SERVER_PORT", "STORE_DRIVER", "SQLITE_PATH", "DB_SOURCE",
	"NOTIFIER", "REDIS_ADDR", "REDIS_PASS", "REDIS_CHANNEL", "KAFKA_BROKERS",
	"KAFKA_TOPIC", "NOTIFY_QUEUE_SIZE", "NOTIFY_WORKERS", "JWT_SECRET",
	"JWT_ISSUER", "RECONCILE_INTERVAL", "CLAIM_LEASE", "CURRENCY", "HIGH_PRIORITY_THRESHOLD",
	"CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, NotifierLog, cfg.Notifier)
	assert.Equal(t, DevJWTSecret, cfg.JWTSecret)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, 30*time.Second, cfg.ClaimLease)
	assert.Equal(t, "10000.00", cfg.HighPriorityThreshold.String())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 1024, cfg.NotifyQueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DB_SOURCE", "postgres://funds@localhost/funds")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("CLAIM_LEASE", "2m")
	t.Setenv("HIGH_PRIORITY_THRESHOLD", "0")
	t.Setenv("CURRENCY", "eur")

	cfg, err := Load()

	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 2*time.Minute, cfg.ClaimLease)
	assert.True(t, cfg.HighPriorityThreshold.IsZero())
	assert.Equal(t, "EUR", cfg.Currency)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MalformedValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"NOTIFY_WORKERS", "four"},
		{"NOTIFY_QUEUE_SIZE", "1k"},
		{"RECONCILE_INTERVAL", "hourly"},
		{"CLAIM_LEASE", "forever"},
		{"HIGH_PRIORITY_THRESHOLD", "10.001"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()

			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "production",
			Port:        "8080",
			StoreDriver: StoreMemory,
			Notifier:    NotifierLog,
			JWTSecret:   "s",
			ClaimLease:  time.Minute,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"postgres without source", func(c *Config) { c.StoreDriver = StorePostgres }, "DB_SOURCE"},
		{"sqlite without path", func(c *Config) { c.StoreDriver = StoreSQLite }, "SQLITE_PATH"},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"unknown notifier", func(c *Config) { c.Notifier = "sms" }, "NOTIFIER"},
		{"kafka without brokers", func(c *Config) { c.Notifier = NotifierKafka }, "KAFKA_BROKERS"},
		{"redis without addr", func(c *Config) { c.Notifier = NotifierRedis }, "REDIS_ADDR"},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"negative interval", func(c *Config) { c.ReconcileInterval = -time.Second }, "RECONCILE_INTERVAL"},
		{"zero claim lease", func(c *Config) { c.ClaimLease = 0 }, "CLAIM_LEASE"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		logger, err := NewLogger(env)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}
