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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "blog_queue", cfg.Kafka.Topics.ContentQueue)
	assert.Equal(t, "blog_queue.dlq", cfg.Kafka.Topics.DeadLetter)
	assert.Equal(t, BulkModeQueue, cfg.Ingestion.BulkMode)
	assert.Equal(t, 1, cfg.Kafka.Partitions)
	assert.Equal(t, "http://localhost:9200", cfg.Index.URL())
	assert.Equal(t, 100, cfg.Search.PageSize)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
server:
  port: 8181
kafka:
  brokers: ["kafka-1:9092"]
ingestion:
  bulkMode: direct
indexer:
  maxAttempts: 7
  initialBackoff: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("SP_CHANNEL_HOST", "rabbit-a:9092,rabbit-b:9092")
	t.Setenv("SP_INDEX_HOST", "search.internal")
	t.Setenv("SP_INDEX_PORT", "9300")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, BulkModeDirect, cfg.Ingestion.BulkMode)
	assert.Equal(t, 7, cfg.Indexer.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Indexer.InitialBackoff)
	assert.Equal(t, []string{"rabbit-a:9092", "rabbit-b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http://search.internal:9300", cfg.Index.URL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad bulk mode", func(c *Config) { c.Ingestion.BulkMode = "sideways" }},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "none" }},
		{"apikey without postgres", func(c *Config) { c.Auth.Mode = AuthModeAPIKey }},
		{"jwt without secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"zero attempts", func(c *Config) { c.Indexer.MaxAttempts = 0 }},
		{"zero page size", func(c *Config) { c.Search.PageSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDevelopmentConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "blog_queue", cfg.Kafka.Topics.ContentQueue)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowOrigins)
	assert.Equal(t, AuthModeJWT, cfg.Auth.Mode)
}
