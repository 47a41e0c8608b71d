package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_key: sk-test
research:
  provider_timeout: 5m
merge:
  provider: anthropic
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.True(t, cfg.Providers.OpenAI.Enabled())
	assert.False(t, cfg.Providers.XAI.Enabled())
	assert.Equal(t, "o3-deep-research-2025-06-26", cfg.Providers.OpenAI.DefaultModel)
	assert.Equal(t, "https://api.x.ai/v1", cfg.Providers.XAI.BaseURL)
	assert.Equal(t, 8000, cfg.Research.DefaultMaxTokens)
	assert.Equal(t, "anthropic", cfg.Merge.Provider)
	assert.Equal(t, 2000, cfg.Merge.SectionMaxTokens)
	assert.Equal(t, 10000, cfg.Merge.ReportMaxTokens)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5*time.Minute, cfg.GetDuration(cfg.Research.ProviderTimeout, time.Hour))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ak-env")
	t.Setenv("XAI_BASE_URL", "http://xai.local/v1")
	t.Setenv("MRA_MERGE_PROVIDER", "xai")
	t.Setenv("API_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/research")

	cfg, err := Load(writeConfig(t, "api:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "ak-env", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "http://xai.local/v1", cfg.Providers.XAI.BaseURL)
	assert.Equal(t, "xai", cfg.Merge.Provider)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/research", cfg.Storage.DSN)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad provider timeout", "research:\n  provider_timeout: soon\n"},
		{"negative provider limit", "research:\n  max_concurrent_providers: -1\n"},
		{"unknown storage", "storage:\n  type: cassandra\n"},
		{"postgres without dsn", "storage:\n  type: postgres\n"},
		{"api port out of range", "api:\n  enabled: true\n  port: 70000\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NotNil(t, cfg)
	assert.Equal(t, 8001, cfg.API.Port)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Merge.Provider = "anthropic"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.Merge.Provider)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("MRA_DOTENV_PROBE=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("MRA_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "from-file", os.Getenv("MRA_DOTENV_PROBE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestGetDurationFallback(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second, cfg.GetDuration("", time.Second))
	assert.Equal(t, time.Second, cfg.GetDuration("nope", time.Second))
	assert.Equal(t, 2*time.Minute, cfg.GetDuration("2m", time.Second))
}
