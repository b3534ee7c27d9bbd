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

	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, 2, cfg.AI.ProtocolCount)
	assert.Equal(t, 50, cfg.Storage.HistoryLimit)
	assert.Equal(t, 3*time.Second, cfg.Execution.AdvanceDelay)
	assert.Equal(t, PolicyConfig{Retries: 3, BaseDelay: 2 * time.Second}, cfg.Retry.Synthesis)
	assert.Equal(t, PolicyConfig{Retries: 2, BaseDelay: time.Second}, cfg.Retry.Inventory)
	assert.Equal(t, 0, cfg.Retry.Chat.Retries)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CULINARYLENS_SERVER_PORT", "9090")
	t.Setenv("CULINARYLENS_STORAGE_HISTORY_LIMIT", "10")
	t.Setenv("CULINARYLENS_RETRY_SYNTHESIS_RETRIES", "5")
	t.Setenv("CULINARYLENS_SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Storage.HistoryLimit)
	assert.Equal(t, 5, cfg.Retry.Synthesis.Retries)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ai:
  provider: local
  local_model: tiny
storage:
  durable_driver: memory
execution:
  advance_delay: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.AI.Provider)
	assert.Equal(t, "tiny", cfg.AI.LocalModel)
	assert.Equal(t, "memory", cfg.Storage.DurableDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.Execution.AdvanceDelay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown provider", func(c *Config) { c.AI.Provider = "openai" }},
		{"unknown durable driver", func(c *Config) { c.Storage.DurableDriver = "s3" }},
		{"unknown session driver", func(c *Config) { c.Storage.SessionDriver = "postgres" }},
		{"postgres without url", func(c *Config) { c.Storage.DurableDriver = "postgres" }},
		{"zero history", func(c *Config) { c.Storage.HistoryLimit = 0 }},
		{"zero protocols", func(c *Config) { c.AI.ProtocolCount = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
