package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina        JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Fetch       FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Normalize   NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Extract     ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Summarize   SummarizeConfig  `yaml:"summarize" mapstructure:"summarize"`
	Export      ExportConfig     `yaml:"export" mapstructure:"export"`
	Pricing     PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
	SchoolsFile string           `yaml:"schools_file" mapstructure:"schools_file"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "memory", "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig configures the model service.
type AnthropicConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	ExtractModel string  `yaml:"extract_model" mapstructure:"extract_model"`
	SummaryModel string  `yaml:"summary_model" mapstructure:"summary_model"`
	MaxTokens    int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// JinaConfig configures the Jina Reader fallback fetcher.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures the page fetch adapter.
type FetchConfig struct {
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTLMins int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	CacheSize    int     `yaml:"cache_size" mapstructure:"cache_size"`
	UseJina      bool    `yaml:"use_jina" mapstructure:"use_jina"`
	PdfToText    string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// NormalizeConfig configures document normalization.
type NormalizeConfig struct {
	MaxLength int `yaml:"max_length" mapstructure:"max_length"`
}

// ExtractConfig configures structured extraction.
type ExtractConfig struct {
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
	CallTimeoutSecs int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	Workers         int `yaml:"workers" mapstructure:"workers"`
}

// SummarizeConfig configures the summarizer.
type SummarizeConfig struct {
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
	CallTimeoutSecs int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// ExportConfig configures exports.
type ExportConfig struct {
	SheetMode string `yaml:"sheet_mode" mapstructure:"sheet_mode"` // "per-category" or "combined"
	Currency  string `yaml:"currency" mapstructure:"currency"`     // default ISO code for bare amounts
}

// PricingConfig holds per-model token pricing for cost estimates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaPricing             `yaml:"jina" mapstructure:"jina"`
}

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaPricing is USD per million Jina tokens.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings a command mode depends on. Mode is one of
// "extract", "summarize", "serve" or "offline" (store-only commands).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "extract", "summarize":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "offline":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Extract.Workers < 1 || c.Extract.Workers > 64 {
		errs = append(errs, "extract.workers must be between 1 and 64")
	}
	if c.Extract.MaxAttempts < 1 {
		errs = append(errs, "extract.max_attempts must be >= 1")
	}
	if c.Summarize.BatchSize < 1 {
		errs = append(errs, "summarize.batch_size must be >= 1")
	}
	if c.Summarize.MaxAttempts < 1 {
		errs = append(errs, "summarize.max_attempts must be >= 1")
	}
	if c.Export.SheetMode != "per-category" && c.Export.SheetMode != "combined" {
		errs = append(errs, "export.sheet_mode must be per-category or combined")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
	v.SetEnvPrefix("SCHOOLINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.summary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("anthropic.rate_per_sec", 2.0)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; SchoolIntelBot/1.0)")
	v.SetDefault("fetch.rate_per_sec", 1.0)
	v.SetDefault("fetch.cache_ttl_mins", 60)
	v.SetDefault("fetch.cache_size", 512)
	v.SetDefault("fetch.use_jina", true)
	v.SetDefault("fetch.pdftotext_path", "pdftotext")
	v.SetDefault("normalize.max_length", 60000)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.call_timeout_secs", 120)
	v.SetDefault("extract.workers", 4)
	v.SetDefault("summarize.batch_size", 10)
	v.SetDefault("summarize.max_attempts", 2)
	v.SetDefault("summarize.call_timeout_secs", 120)
	v.SetDefault("export.sheet_mode", "per-category")
	v.SetDefault("export.currency", "PHP")
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 25.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("schools_file", "")

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
