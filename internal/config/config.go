package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Bitrix     BitrixConfig     `yaml:"bitrix" mapstructure:"bitrix"`
	Transcribe TranscribeConfig `yaml:"transcribe" mapstructure:"transcribe"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Retention  RetentionConfig  `yaml:"retention" mapstructure:"retention"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BitrixConfig holds Bitrix24 webhook API settings.
type BitrixConfig struct {
	WebhookURL      string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	JunkReasonField string  `yaml:"junk_reason_field" mapstructure:"junk_reason_field"`
	JunkStatusValue string  `yaml:"junk_status_value" mapstructure:"junk_status_value"`
	ActiveStatus    string  `yaml:"active_status_value" mapstructure:"active_status_value"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	PageSize        int     `yaml:"page_size" mapstructure:"page_size"`
}

// TranscribeConfig holds transcription microservice settings.
type TranscribeConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	LanguageHint     string `yaml:"language_hint" mapstructure:"language_hint"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxDownloadBytes int64  `yaml:"max_download_bytes" mapstructure:"max_download_bytes"`
}

// AnthropicConfig holds Anthropic API settings for the classifier.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnalysisConfig configures the per-lead decision pipeline.
type AnalysisConfig struct {
	MinUnsuccessfulCalls int `yaml:"min_unsuccessful_calls" mapstructure:"min_unsuccessful_calls"`
	LeadBatchLimit       int `yaml:"lead_batch_limit" mapstructure:"lead_batch_limit"`
	DelayBetweenLeadsMS  int `yaml:"delay_between_leads_ms" mapstructure:"delay_between_leads_ms"`
}

// SchedulerConfig configures the background trigger loop.
type SchedulerConfig struct {
	IntervalHours       int  `yaml:"interval_hours" mapstructure:"interval_hours"`
	ShutdownTimeoutSecs int  `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
	DryRun              bool `yaml:"dry_run" mapstructure:"dry_run"`
}

// LedgerConfig configures the audit/cache database backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RetentionConfig bounds how long audit rows are kept. Successful transcript
// text is a durable cache and is never evicted by cleanup.
type RetentionConfig struct {
	HistoryDays          int `yaml:"history_days" mapstructure:"history_days"`
	FailedTranscriptDays int `yaml:"failed_transcript_days" mapstructure:"failed_transcript_days"`
}

// ServerConfig configures the HTTP trigger/webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("bitrix.junk_reason_field", "UF_CRM_1751812306933")
	v.SetDefault("bitrix.junk_status_value", "JUNK")
	v.SetDefault("bitrix.active_status_value", "NEW")
	v.SetDefault("bitrix.timeout_secs", 30)
	v.SetDefault("bitrix.rate_limit_rps", 2.0)
	v.SetDefault("bitrix.page_size", 50)
	v.SetDefault("transcribe.language_hint", "uz")
	v.SetDefault("transcribe.timeout_secs", 60)
	v.SetDefault("transcribe.max_download_bytes", 64*1024*1024)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("analysis.min_unsuccessful_calls", 5)
	v.SetDefault("analysis.lead_batch_limit", 100)
	v.SetDefault("analysis.delay_between_leads_ms", 2000)
	v.SetDefault("scheduler.interval_hours", 24)
	v.SetDefault("scheduler.shutdown_timeout_secs", 30)
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.database_url", "leadcheck.db")
	v.SetDefault("retention.history_days", 90)
	v.SetDefault("retention.failed_transcript_days", 14)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings that have no workable default. Missing values
// are fatal at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.Bitrix.WebhookURL == "" {
		missing = append(missing, "bitrix.webhook_url")
	}
	if c.Transcribe.BaseURL == "" {
		missing = append(missing, "transcribe.base_url")
	}
	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}

	if !strings.HasPrefix(c.Bitrix.WebhookURL, "http://") && !strings.HasPrefix(c.Bitrix.WebhookURL, "https://") {
		return eris.New("config: bitrix.webhook_url must start with http:// or https://")
	}
	if !strings.HasPrefix(c.Transcribe.BaseURL, "http://") && !strings.HasPrefix(c.Transcribe.BaseURL, "https://") {
		return eris.New("config: transcribe.base_url must start with http:// or https://")
	}
	if c.Scheduler.IntervalHours <= 0 {
		return eris.New("config: scheduler.interval_hours must be positive")
	}
	if c.Analysis.LeadBatchLimit <= 0 {
		return eris.New("config: analysis.lead_batch_limit must be positive")
	}
	return nil
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
