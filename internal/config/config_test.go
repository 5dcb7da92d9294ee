package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("SUBS_DB_PATH", "/tmp/test.sqlite")
	t.Setenv("CLICKHOUSE_ADDR", "ch.example.com:9000")
	t.Setenv("CLICKHOUSE_DATABASE", "events")
	t.Setenv("CLICKHOUSE_USERNAME", "reader")
	t.Setenv("CLICKHOUSE_PASSWORD", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.sqlite", cfg.SubsDBPath)
	assert.Equal(t, "ch.example.com:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "events", cfg.ClickHouse.Database)
	assert.Equal(t, "reader", cfg.ClickHouse.Username)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":1218", cfg.ListenAddr)
	assert.Equal(t, "signalhouse_subscriptions.sqlite", cfg.SubsDBPath)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "default", cfg.ClickHouse.Database)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 100.0, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFromEnv_ProductionRequiresPassword(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLICKHOUSE_PASSWORD")
}

func TestLoadFromEnv_ProductionRejectsCORSWildcard(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CLICKHOUSE_PASSWORD", "secret")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS")
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	require.NoError(t, os.WriteFile(envFile, []byte(
		"# comment\nSIGNALHOUSE_TEST_KEY=test_value\nQUOTED='with quotes'\n"), 0o644))
	t.Setenv("SIGNALHOUSE_TEST_KEY", "")
	t.Setenv("QUOTED", "")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("SIGNALHOUSE_TEST_KEY"))
	assert.Equal(t, "with quotes", os.Getenv("QUOTED"))
}

func TestLoadDotEnv_EnvTakesPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	require.NoError(t, os.WriteFile(envFile, []byte("SIGNALHOUSE_PRECEDENCE=file\n"), 0o644))
	t.Setenv("SIGNALHOUSE_PRECEDENCE", "env")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "env", os.Getenv("SIGNALHOUSE_PRECEDENCE"))
}
