package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the extraction cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	ClassifyModel     string  `yaml:"classify_model" mapstructure:"classify_model"`
	ExtractModel      string  `yaml:"extract_model" mapstructure:"extract_model"`
	MaxConcurrent     int64   `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	CallTimeoutSecs   int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// Retry policy for transient API failures.
	MaxAttempts           int `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryInitialBackoffMs int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`

	// Circuit breaker around all model traffic.
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// CallTimeout returns the per-call timeout as a duration.
func (c AnthropicConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// OCRConfig configures PDF and image text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// PipelineConfig configures document processing behavior.
type PipelineConfig struct {
	// DocumentTimeoutSecs bounds an entire document run end to end.
	DocumentTimeoutSecs int `yaml:"document_timeout_secs" mapstructure:"document_timeout_secs"`

	// SelfCorrection re-extracts low-confidence fields with focused prompts.
	SelfCorrection          bool `yaml:"self_correction" mapstructure:"self_correction"`
	SelfCorrectionThreshold int  `yaml:"self_correction_threshold" mapstructure:"self_correction_threshold"`

	// MaxTextChars truncates OCR text sent to the model.
	MaxTextChars int `yaml:"max_text_chars" mapstructure:"max_text_chars"`

	// CacheExtractions reuses stored results for identical text + category.
	CacheExtractions bool `yaml:"cache_extractions" mapstructure:"cache_extractions"`
}

// DocumentTimeout returns the per-document deadline as a duration.
func (p PipelineConfig) DocumentTimeout() time.Duration {
	return time.Duration(p.DocumentTimeoutSecs) * time.Second
}

// BatchConfig configures multi-document processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable for the given mode.
// Mode "pipeline" covers process/batch commands that call the model API;
// mode "store" covers commands that only touch the local store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 50 {
		problems = append(problems, "batch.max_concurrent_documents must be between 1 and 50")
	}
	if c.Pipeline.SelfCorrectionThreshold < 0 || c.Pipeline.SelfCorrectionThreshold > 100 {
		problems = append(problems, "pipeline.self_correction_threshold must be between 0 and 100")
	}
	if c.Pipeline.DocumentTimeoutSecs <= 0 {
		problems = append(problems, "pipeline.document_timeout_secs must be > 0")
	}

	switch mode {
	case "pipeline":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required (DOCINTEL_ANTHROPIC_KEY)")
		}
		if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
			problems = append(problems, "ocr.mistral_api_key is required for the mistral provider")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docintel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	// Secrets default to empty so env-only values survive Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_concurrent", 5)
	v.SetDefault("anthropic.call_timeout_secs", 30)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("anthropic.retry_initial_backoff_ms", 1000)
	v.SetDefault("anthropic.retry_max_backoff_ms", 30000)
	v.SetDefault("anthropic.circuit_failure_threshold", 5)
	v.SetDefault("anthropic.circuit_reset_secs", 30)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("pipeline.document_timeout_secs", 300)
	v.SetDefault("pipeline.self_correction", false)
	v.SetDefault("pipeline.self_correction_threshold", 70)
	v.SetDefault("pipeline.max_text_chars", 8000)
	v.SetDefault("pipeline.cache_extractions", true)
	v.SetDefault("batch.max_concurrent_documents", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
