package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Env       string
	Port      string
	Mode      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string
	SeedDevData bool

	// Grace-period sweep
	SweepSchedule     string
	SweepBatchSize    int
	SweepConcurrency  int
	WorkerConcurrency int
	ApplyTimeout      time.Duration
	ApplyRetryBackoff time.Duration
	PendingTTL        time.Duration

	// Plan store (apply/revert callbacks)
	PlanStoreURL    string
	PlanStoreSecret string
	PlanStoreStub   bool

	PolicyDefaultsPath string
	PayloadSchemaDir   string
	StreamsEnabled     bool

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Env:       getEnvWithDefault("ENV", "development"),
		Port:      getEnvWithDefault("PORT", "8080"),
		Mode:      strings.ToLower(getEnvWithDefault("MODE", "embedded")),
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		SeedDevData: getEnvBool("SEED_DEV_DATA", false),

		SweepSchedule:     getEnvWithDefault("SWEEP_SCHEDULE", "@every 1m"),
		SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 200),
		SweepConcurrency:  getEnvInt("SWEEP_CONCURRENCY", 4),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		ApplyTimeout:      getEnvDuration("APPLY_TIMEOUT", 10*time.Second),
		ApplyRetryBackoff: getEnvDuration("APPLY_RETRY_BACKOFF", 5*time.Minute),
		PendingTTL:        getEnvDuration("PENDING_TTL", 0),

		PlanStoreURL:    os.Getenv("PLAN_STORE_URL"),
		PlanStoreSecret: os.Getenv("PLAN_STORE_SECRET"),
		PlanStoreStub:   getEnvBool("PLAN_STORE_STUB", false),

		PolicyDefaultsPath: os.Getenv("POLICY_DEFAULTS_PATH"),
		PayloadSchemaDir:   os.Getenv("PAYLOAD_SCHEMA_DIR"),
		StreamsEnabled:     getEnvBool("STREAMS_ENABLED", true),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	// Without a plan store there is nothing to apply deltas against
	if cfg.PlanStoreURL == "" && !cfg.PlanStoreStub {
		cfg.PlanStoreStub = true
		log.Println("WARNING: PLAN_STORE_URL not set. Plan store calls run in stub mode.")
	}

	return cfg
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: invalid integer for %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return i
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("WARNING: invalid boolean for %s=%q, using %t", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("WARNING: invalid duration for %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty entries.
// A value with no entries falls back to the default.
func getEnvList(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
