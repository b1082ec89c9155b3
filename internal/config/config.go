package config

import (
	"math"
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
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Decision  DecisionConfig  `yaml:"decision" mapstructure:"decision"`
	ASR       ASRConfig       `yaml:"asr" mapstructure:"asr"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Pack      PackConfig      `yaml:"pack" mapstructure:"pack"`
	Dispatch  DispatchConfig  `yaml:"dispatch" mapstructure:"dispatch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// QueueConfig configures the broker and the admission gate.
type QueueConfig struct {
	MaxSize               int `yaml:"max_size" mapstructure:"max_size"`
	OpTimeoutMillis       int `yaml:"op_timeout_ms" mapstructure:"op_timeout_ms"`
	VisibilityTimeoutSecs int `yaml:"visibility_timeout_secs" mapstructure:"visibility_timeout_secs"`
}

// OpTimeout is the hard bound on broker probe/enqueue operations.
func (q QueueConfig) OpTimeout() time.Duration {
	return time.Duration(q.OpTimeoutMillis) * time.Millisecond
}

// VisibilityTimeout is how long a leased delivery stays invisible before
// becoming redeliverable.
func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSecs) * time.Second
}

// PipelineConfig configures the executor.
type PipelineConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	PollIntervalMs   int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// StageTimeout bounds each external collaborator call.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSecs) * time.Second
}

// PollInterval is the idle dequeue backoff.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// ScoringConfig holds the confidence weights. They must sum to 1.
type ScoringConfig struct {
	ASRWeight       float64 `yaml:"asr_weight" mapstructure:"asr_weight"`
	EntityWeight    float64 `yaml:"entity_weight" mapstructure:"entity_weight"`
	RetrievalWeight float64 `yaml:"retrieval_weight" mapstructure:"retrieval_weight"`
}

// DecisionConfig holds the escalation thresholds.
type DecisionConfig struct {
	AutoThreshold    float64 `yaml:"auto_threshold" mapstructure:"auto_threshold"`
	FlaggedThreshold float64 `yaml:"flagged_threshold" mapstructure:"flagged_threshold"`
}

// ASRConfig configures the transcription provider.
type ASRConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "http" or "mock"
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Key      string `yaml:"key" mapstructure:"key"`
}

// InferenceConfig configures the structured-extraction provider.
type InferenceConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "anthropic" or "pack"
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PackConfig points at the lexicon pack driving retrieval and plausibility rules.
type PackConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DispatchConfig configures downstream push of dispatch decisions.
type DispatchConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout bounds one downstream delivery attempt.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec     float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StorageConfig configures audio payload handling.
type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxAudioSizeMB int    `yaml:"max_audio_size_mb" mapstructure:"max_audio_size_mb"`
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
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys set only via environment still need a default here so
	// AutomaticEnv can see them during Unmarshal.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dispatch.db")
	v.SetDefault("queue.max_size", 500)
	v.SetDefault("queue.op_timeout_ms", 2000)
	v.SetDefault("queue.visibility_timeout_secs", 120)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.stage_timeout_secs", 60)
	v.SetDefault("pipeline.poll_interval_ms", 500)
	v.SetDefault("scoring.asr_weight", 0.40)
	v.SetDefault("scoring.entity_weight", 0.35)
	v.SetDefault("scoring.retrieval_weight", 0.25)
	v.SetDefault("decision.auto_threshold", 0.9)
	v.SetDefault("decision.flagged_threshold", 0.7)
	v.SetDefault("asr.provider", "http")
	v.SetDefault("asr.base_url", "")
	v.SetDefault("asr.key", "")
	v.SetDefault("inference.provider", "anthropic")
	v.SetDefault("inference.key", "")
	v.SetDefault("inference.model", "claude-haiku-4-5-20251001")
	v.SetDefault("inference.max_tokens", 1024)
	v.SetDefault("pack.path", "packs/default.yaml")
	v.SetDefault("dispatch.webhook_url", "")
	v.SetDefault("dispatch.timeout_secs", 5)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.rate_per_sec", 2.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "http://127.0.0.1"})
	v.SetDefault("storage.upload_dir", "/tmp/dispatch/uploads")
	v.SetDefault("storage.max_audio_size_mb", 10)
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

// Validate checks cross-field invariants that viper cannot express.
func (c *Config) Validate() error {
	sum := c.Scoring.ASRWeight + c.Scoring.EntityWeight + c.Scoring.RetrievalWeight
	if math.Abs(sum-1.0) > 0.01 {
		return eris.Errorf("config: scoring weights must sum to 1.0, got %.3f", sum)
	}
	if c.Decision.FlaggedThreshold > c.Decision.AutoThreshold {
		return eris.Errorf("config: flagged threshold %.2f exceeds auto threshold %.2f",
			c.Decision.FlaggedThreshold, c.Decision.AutoThreshold)
	}
	if c.Queue.MaxSize <= 0 {
		return eris.New("config: queue.max_size must be positive")
	}
	if c.Pipeline.Workers <= 0 {
		return eris.New("config: pipeline.workers must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return eris.New("config: pipeline.max_attempts must be positive")
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
