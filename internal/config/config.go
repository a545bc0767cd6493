// Package config loads process configuration from environment
// variables, in the manual getEnv/getIntEnv style rather than a
// flag/viper framework.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageBackend selects which storage.Backend implementation the
// host daemon constructs.
type StorageBackend string

const (
	BackendMemory StorageBackend = "memory"
	BackendSQLite StorageBackend = "sqlite"
	BackendMySQL  StorageBackend = "mysql"
)

// Config holds all flowhostd process configuration.
type Config struct {
	// Storage
	Backend    StorageBackend
	SQLitePath string
	MySQLDSN   string

	// Scheduler / lease tuning (spec.md §4.4, §4.6)
	MaxParallelRuns int
	LeaseTTL        time.Duration
	HeartbeatPeriod time.Duration
	ReclaimPeriod   time.Duration

	// Event outbox delivery to the tracing sink.
	OutboxDrainPeriod time.Duration

	// Trigger storm control (spec.md §4.9); zero disables each bound.
	TriggerCooldownMs int
	TriggerMaxQueued  int

	// RPC surface
	RPCAddr string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
	LogPath   string

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// Tracing
	TracingEnabled bool

	// LLM node providers
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	// Features
	DebugEnabled bool
}

// Load reads FLOWFORGE_ENV-scoped .env file (optional) and then
// environment variables, applying defaults for anything unset.
func Load() (*Config, error) {
	env := getEnv("FLOWFORGE_ENV", "development")
	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", envFile, err)
		}
	}

	cfg := &Config{}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.Backend = StorageBackend(getEnv("FLOWFORGE_BACKEND", string(BackendMemory)))
	c.SQLitePath = getEnv("FLOWFORGE_SQLITE_PATH", "flowforge.db")
	c.MySQLDSN = getEnv("FLOWFORGE_MYSQL_DSN", "")

	c.MaxParallelRuns = getIntEnv("FLOWFORGE_MAX_PARALLEL_RUNS", 8)

	leaseTTL, err := getDurationEnv("FLOWFORGE_LEASE_TTL", "30s")
	if err != nil {
		return fmt.Errorf("invalid FLOWFORGE_LEASE_TTL: %w", err)
	}
	c.LeaseTTL = leaseTTL

	heartbeat, err := getDurationEnv("FLOWFORGE_HEARTBEAT_PERIOD", "10s")
	if err != nil {
		return fmt.Errorf("invalid FLOWFORGE_HEARTBEAT_PERIOD: %w", err)
	}
	c.HeartbeatPeriod = heartbeat

	reclaim, err := getDurationEnv("FLOWFORGE_RECLAIM_PERIOD", "5s")
	if err != nil {
		return fmt.Errorf("invalid FLOWFORGE_RECLAIM_PERIOD: %w", err)
	}
	c.ReclaimPeriod = reclaim

	drain, err := getDurationEnv("FLOWFORGE_OUTBOX_DRAIN_PERIOD", "5s")
	if err != nil {
		return fmt.Errorf("invalid FLOWFORGE_OUTBOX_DRAIN_PERIOD: %w", err)
	}
	c.OutboxDrainPeriod = drain

	c.TriggerCooldownMs = getIntEnv("FLOWFORGE_TRIGGER_COOLDOWN_MS", 0)
	c.TriggerMaxQueued = getIntEnv("FLOWFORGE_TRIGGER_MAX_QUEUED", 0)

	c.RPCAddr = getEnv("FLOWFORGE_RPC_ADDR", ":7357")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")
	c.LogOutput = getEnv("LOG_OUTPUT", "stdout")
	c.LogPath = getEnv("LOG_PATH", "flowforge.log")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", false)
	c.MetricsAddr = getEnv("METRICS_ADDR", ":9464")

	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", "")
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	c.GoogleAPIKey = getEnv("GOOGLE_API_KEY", "")

	c.DebugEnabled = getBoolEnv("FLOWFORGE_DEBUG", false)

	return nil
}

// Validate rejects configuration combinations that cannot run.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("FLOWFORGE_MYSQL_DSN is required when FLOWFORGE_BACKEND=mysql")
		}
	default:
		return fmt.Errorf("invalid FLOWFORGE_BACKEND: %s (must be memory, sqlite, or mysql)", c.Backend)
	}

	if c.MaxParallelRuns < 1 {
		return fmt.Errorf("FLOWFORGE_MAX_PARALLEL_RUNS must be >= 1")
	}
	if c.LeaseTTL <= c.HeartbeatPeriod {
		return fmt.Errorf("FLOWFORGE_LEASE_TTL must be greater than FLOWFORGE_HEARTBEAT_PERIOD")
	}
	if c.OutboxDrainPeriod <= 0 {
		return fmt.Errorf("FLOWFORGE_OUTBOX_DRAIN_PERIOD must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	v := getEnv(key, defaultValue)
	return time.ParseDuration(strings.TrimSpace(v))
}
