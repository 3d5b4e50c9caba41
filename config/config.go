package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseDriver string // "postgres" or "sqlite"
	SQLitePath     string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency int
	MaxRetries     int
	RetryBaseMs    int

	// AbsentBatchesBeforeRemoval is how many consecutive full batches a listing
	// must be missing from before the sweeper deletes it.
	AbsentBatchesBeforeRemoval int
	// SweepAfterIngest chains a sweep after every full batch.
	SweepAfterIngest bool

	ComparableMinCount      int
	ComparableMaxCount      int
	ComparableBedroomDelta  int
	ComparableSqftTolerance float64
	EvalMinSpacingMs        int
	EvalTimeoutSec          int
	EvalMaxAttempts         int
	EvalMaxAttemptsPerRun   int
	EvalBuilders            []string
	EvalStatuses            []string
	GeminiAPIKey            string
	GeminiModel             string

	InboxDir   string
	ArchiveDir string

	IngestSchedule   string
	EvaluateSchedule string
	SweepSchedule    string
	HTTPPort         int

	LogLevel  string
	LogPretty bool
}

// Load reads the .env file and returns a populated Config struct.
// The returned bool reports whether a .env file was found.
func Load() (*Config, bool) {
	envLoaded := godotenv.Load() == nil

	return &Config{
		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/listings.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "tracker"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "tracker123"),
		PostgresDB:       getEnv("POSTGRES_DB", "newhomes"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseMs:    getEnvInt("RETRY_BASE_MS", 2000),

		AbsentBatchesBeforeRemoval: getEnvInt("ABSENT_BATCHES_BEFORE_REMOVAL", 3),
		SweepAfterIngest:           getEnvBool("SWEEP_AFTER_INGEST", true),

		ComparableMinCount:      getEnvInt("COMPARABLE_MIN_COUNT", 2),
		ComparableMaxCount:      getEnvInt("COMPARABLE_MAX_COUNT", 10),
		ComparableBedroomDelta:  getEnvInt("COMPARABLE_BEDROOM_DELTA", 1),
		ComparableSqftTolerance: getEnvFloat("COMPARABLE_SQFT_TOLERANCE", 0.20),
		EvalMinSpacingMs:        getEnvInt("EVAL_MIN_SPACING_MS", 2000),
		EvalTimeoutSec:          getEnvInt("EVAL_TIMEOUT_SEC", 60),
		EvalMaxAttempts:         getEnvInt("EVAL_MAX_ATTEMPTS", 3),
		EvalMaxAttemptsPerRun:   getEnvInt("EVAL_MAX_ATTEMPTS_PER_RUN", 200),
		EvalBuilders:            getEnvList("EVAL_BUILDERS"),
		EvalStatuses:            getEnvList("EVAL_STATUSES"),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		InboxDir:   getEnv("INBOX_DIR", "./data/inbox"),
		ArchiveDir: getEnv("ARCHIVE_DIR", "./data/archive"),

		IngestSchedule:   getEnv("INGEST_SCHEDULE", "@every 6h"),
		EvaluateSchedule: getEnv("EVALUATE_SCHEDULE", "0 3 * * *"),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@daily"),
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", true),
	}, envLoaded
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// RetryBaseDelay returns the first backoff step.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

// EvalMinSpacing returns the minimum delay between two reasoning calls.
func (c *Config) EvalMinSpacing() time.Duration {
	return time.Duration(c.EvalMinSpacingMs) * time.Millisecond
}

// EvalTimeout returns the per-call timeout for the reasoning service.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
