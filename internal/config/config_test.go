package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "docintel.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.ClassifyModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.ExtractModel)
	assert.Equal(t, int64(5), cfg.Anthropic.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Anthropic.CallTimeout())
	assert.Equal(t, 3, cfg.Anthropic.MaxAttempts)
	assert.Equal(t, 1000, cfg.Anthropic.RetryInitialBackoffMs)
	assert.Equal(t, 5, cfg.Anthropic.CircuitFailureThreshold)
	assert.Equal(t, 30, cfg.Anthropic.CircuitResetSecs)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.DocumentTimeout())
	assert.False(t, cfg.Pipeline.SelfCorrection)
	assert.Equal(t, 70, cfg.Pipeline.SelfCorrectionThreshold)
	assert.Equal(t, 8000, cfg.Pipeline.MaxTextChars)
	assert.True(t, cfg.Pipeline.CacheExtractions)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentDocuments)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/docintel
log:
  level: debug
  format: console
pipeline:
  self_correction: true
batch:
  max_concurrent_documents: 10
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Pipeline.SelfCorrection)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrentDocuments)
	// Defaults still apply for unset values
	assert.Equal(t, 8000, cfg.Pipeline.MaxTextChars)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DOCINTEL_STORE_DRIVER", "postgres")
	t.Setenv("DOCINTEL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("DOCINTEL_OCR_PROVIDER", "mistral")
	t.Setenv("DOCINTEL_PIPELINE_MAX_TEXT_CHARS", "4000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.OCR.Provider)
	assert.Equal(t, 4000, cfg.Pipeline.MaxTextChars)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation for store commands.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Batch.MaxConcurrentDocuments = 5
	cfg.Pipeline.SelfCorrectionThreshold = 70
	cfg.Pipeline.DocumentTimeoutSecs = 300
	return cfg
}

func TestValidatePipeline_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidatePipeline_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("pipeline")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidatePipeline_MistralNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate("pipeline")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key is required")

	cfg.OCR.MistralKey = "mk-test"
	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/docintel"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentDocuments = 0
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_documents must be between 1 and 50")

	cfg.Batch.MaxConcurrentDocuments = 51
	err = cfg.Validate("store")
	assert.Error(t, err)

	cfg.Batch.MaxConcurrentDocuments = 50
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.SelfCorrectionThreshold = 101
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "self_correction_threshold")

	cfg.Pipeline.SelfCorrectionThreshold = 70
	cfg.Pipeline.DocumentTimeoutSecs = 0
	err = cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "document_timeout_secs")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
