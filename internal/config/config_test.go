package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SOLANA_WS_ENDPOINT", "wss://example.invalid")
	t.Setenv("USE_MEMORY", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "wss://example.invalid", cfg.WSEndpoint)
	assert.True(t, cfg.UseMemory)
	assert.Equal(t, []string{"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"}, cfg.ProgramList())
	assert.Equal(t, 24*time.Hour, cfg.CacheWindow)
	assert.Equal(t, time.Duration(0), cfg.LateGrace)
	assert.Equal(t, 100, cfg.HistoryBuckets)
	assert.Equal(t, 256, cfg.SubscriberQueueSize)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("HISTORY_BUCKETS=42\nLATE_GRACE=2s\n"), 0o600))
	t.Setenv("LATE_GRACE", "5s")
	t.Cleanup(func() { os.Unsetenv("HISTORY_BUCKETS") })

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.HistoryBuckets)
	assert.Equal(t, 5*time.Second, cfg.LateGrace)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate(), "no upstream")

	cfg.KafkaBrokers = "localhost:9092, localhost:9093"
	assert.Error(t, cfg.Validate(), "no storage")
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.KafkaBrokerList())

	cfg.UseMemory = true
	assert.NoError(t, cfg.Validate())

	cfg.LateGrace = -time.Second
	assert.Error(t, cfg.Validate())
}
