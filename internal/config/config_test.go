package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.RAG.ChunkSize)
	assert.Equal(t, 64, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, time.Hour, cfg.RAG.SessionIdleTimeout)
	assert.Equal(t, SnapshotFile, cfg.RAG.SnapshotBackend)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
port = 9090

[rag]
chunk_size = 256
chunk_overlap = 32
session_idle_timeout = "15m"
embedder = "hashing"
snapshot_backend = "memory"

[llm]
generation_timeout = "45s"
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RAG_TOP_K", "8")
	t.Setenv("LLM_EMBEDDING_TIMEOUT", "10s")
	t.Setenv("MYSQL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.Equal(t, 32, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.Equal(t, 15*time.Minute, cfg.RAG.SessionIdleTimeout)
	assert.Equal(t, EmbedderHashing, cfg.RAG.Embedder)
	assert.Equal(t, 45*time.Second, cfg.LLM.GenerationTimeout)
	assert.Equal(t, 10*time.Second, cfg.LLM.EmbeddingTimeout)
	assert.True(t, cfg.MySQL.Enabled)
}

func TestEnvOverridesTuningFields(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("RAG_MAX_QUERY_RUNES", "200")
	t.Setenv("RAG_EMBEDDING_BATCH_SIZE", "25")
	t.Setenv("RAG_EMBEDDING_CONCURRENCY", "2")
	t.Setenv("RAG_EVICTION_INTERVAL", "30s")
	t.Setenv("RAG_SNAPSHOT_TOUCH_INTERVAL", "5m")
	t.Setenv("LLM_TEMPERATURE", "0.7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.RAG.MaxQueryRunes)
	assert.Equal(t, 25, cfg.RAG.EmbeddingBatchSize)
	assert.Equal(t, 2, cfg.RAG.EmbeddingConcurrency)
	assert.Equal(t, 30*time.Second, cfg.RAG.EvictionInterval)
	assert.Equal(t, 5*time.Minute, cfg.RAG.SnapshotTouch)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-6)

	t.Setenv("LLM_TEMPERATURE", "warm")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().LLM.Temperature, cfg.LLM.Temperature)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap equals size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"negative overlap", func(c *Config) { c.RAG.ChunkOverlap = -1 }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"unknown backend", func(c *Config) { c.RAG.SnapshotBackend = "s3" }},
		{"unknown embedder", func(c *Config) { c.RAG.Embedder = "bert" }},
		{"file backend without dir", func(c *Config) { c.RAG.DataDir = "" }},
		{"rabbitmq without mysql", func(c *Config) { c.RabbitMQ.Enabled = true }},
		{"zero timeout", func(c *Config) { c.LLM.GenerationTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}
