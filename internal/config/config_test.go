package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
	assert.Equal(t, 120, cfg.Extract.CallTimeoutSecs)
	assert.Equal(t, 4, cfg.Extract.Workers)
	assert.Equal(t, 10, cfg.Summarize.BatchSize)
	assert.Equal(t, 60000, cfg.Normalize.MaxLength)
	assert.Equal(t, "per-category", cfg.Export.SheetMode)
	assert.Equal(t, "PHP", cfg.Export.Currency)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.True(t, cfg.Fetch.UseJina)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.ExtractModel)
	assert.Equal(t, int64(8192), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.02, cfg.Pricing.Jina.PerMTok, 0.0001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/schools
log:
  level: debug
  format: console
extract:
  workers: 8
summarize:
  batch_size: 5
export:
  sheet_mode: combined
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/schools", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Extract.Workers)
	assert.Equal(t, 5, cfg.Summarize.BatchSize)
	assert.Equal(t, "combined", cfg.Export.SheetMode)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Extract.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SCHOOLINTEL_STORE_DRIVER", "memory")
	t.Setenv("SCHOOLINTEL_LOG_LEVEL", "warn")
	t.Setenv("SCHOOLINTEL_EXTRACT_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Extract.MaxAttempts)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Extract.Workers = 4
	cfg.Extract.MaxAttempts = 3
	cfg.Summarize.BatchSize = 10
	cfg.Summarize.MaxAttempts = 2
	cfg.Export.SheetMode = "per-category"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("all present", func(t *testing.T) {
		for _, mode := range []string{"extract", "summarize", "serve", "offline"} {
			assert.NoError(t, validDefaults().Validate(mode), mode)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := validDefaults()
		cfg.Anthropic.Key = ""
		err := cfg.Validate("extract")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anthropic.key is required")
		assert.NoError(t, cfg.Validate("offline"))
	})

	t.Run("postgres needs url", func(t *testing.T) {
		cfg := validDefaults()
		cfg.Store.Driver = "postgres"
		err := cfg.Validate("offline")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database_url")
	})

	t.Run("bounds", func(t *testing.T) {
		cfg := validDefaults()
		cfg.Extract.Workers = 0
		cfg.Summarize.BatchSize = 0
		cfg.Export.SheetMode = "weird"
		err := cfg.Validate("offline")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extract.workers must be between 1 and 64")
		assert.Contains(t, err.Error(), "summarize.batch_size")
		assert.Contains(t, err.Error(), "sheet_mode")
	})

	t.Run("serve port", func(t *testing.T) {
		cfg := validDefaults()
		cfg.Server.Port = 0
		err := cfg.Validate("serve")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port must be > 0")
	})

	t.Run("unknown mode", func(t *testing.T) {
		err := validDefaults().Validate("bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
	})
}
