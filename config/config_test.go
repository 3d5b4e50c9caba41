package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _ := Load()

	assert.Equal(t, 3, cfg.AbsentBatchesBeforeRemoval)
	assert.True(t, cfg.SweepAfterIngest)
	assert.Equal(t, 2, cfg.ComparableMinCount)
	assert.Equal(t, 2*time.Second, cfg.EvalMinSpacing())
	assert.Empty(t, cfg.EvalBuilders)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("MAX_CONCURRENCY", "9")
	t.Setenv("COMPARABLE_SQFT_TOLERANCE", "0.35")
	t.Setenv("EVAL_BUILDERS", "kb-home, , lennar")
	t.Setenv("LOG_PRETTY", "false")
	t.Setenv("SWEEP_AFTER_INGEST", "false")
	t.Setenv("EVAL_TIMEOUT_SEC", "not-a-number")

	cfg, _ := Load()

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 9, cfg.MaxConcurrency)
	assert.InDelta(t, 0.35, cfg.ComparableSqftTolerance, 1e-9)
	assert.Equal(t, []string{"kb-home", "lennar"}, cfg.EvalBuilders)
	assert.False(t, cfg.LogPretty)
	assert.False(t, cfg.SweepAfterIngest)
	assert.Equal(t, 60*time.Second, cfg.EvalTimeout())
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5432", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "homes", PostgresSSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=homes sslmode=disable", cfg.DSN())
}
