// Package config loads pipeline settings from config.yaml and METAEXTRACT_*
// environment variables and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/metaextract/internal/cleaning"
	"github.com/sells-group/metaextract/internal/cost"
	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/qa"
	"github.com/sells-group/metaextract/internal/reliability"
	"github.com/sells-group/metaextract/internal/resilience"
	"github.com/sells-group/metaextract/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Models    ModelsConfig    `yaml:"models" mapstructure:"models"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Consensus ConsensusConfig `yaml:"consensus" mapstructure:"consensus"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// PathsConfig locates pipeline inputs and outputs.
type PathsConfig struct {
	Extracted string `yaml:"extracted" mapstructure:"extracted"`
	Verified  string `yaml:"verified" mapstructure:"verified"`
	Final     string `yaml:"final" mapstructure:"final"`
	ICR       string `yaml:"icr" mapstructure:"icr"`
	Logs      string `yaml:"logs" mapstructure:"logs"`
}

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ModelConfig configures one verifier model.
type ModelConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Model             string  `yaml:"model" mapstructure:"model"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ModelsConfig holds the three verifier models.
type ModelsConfig struct {
	Claude ModelConfig `yaml:"claude" mapstructure:"claude"`
	GPT4o  ModelConfig `yaml:"gpt4o" mapstructure:"gpt4o"`
	Groq   ModelConfig `yaml:"groq" mapstructure:"groq"`
}

// Named returns the models keyed by verifier name, in verification order.
func (m ModelsConfig) Named() []NamedModel {
	return []NamedModel{
		{Name: "claude", ModelConfig: m.Claude},
		{Name: "gpt4o", ModelConfig: m.GPT4o},
		{Name: "groq", ModelConfig: m.Groq},
	}
}

// NamedModel pairs a verifier name with its model config.
type NamedModel struct {
	Name string
	ModelConfig
}

// QualityConfig holds QA, cleaning and reliability thresholds.
type QualityConfig struct {
	MaxEffectSize    float64 `yaml:"max_effect_size" mapstructure:"max_effect_size"`
	MinSampleSize    int     `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	HumanSamplePct   float64 `yaml:"human_sample_pct" mapstructure:"human_sample_pct"`
	KappaCategorical float64 `yaml:"kappa_categorical" mapstructure:"kappa_categorical"`
	ICCNumerical     float64 `yaml:"icc_numerical" mapstructure:"icc_numerical"`
	OutlierZ         float64 `yaml:"outlier_z" mapstructure:"outlier_z"`
	ICRSeed          int64   `yaml:"icr_seed" mapstructure:"icr_seed"`
	VocabFile        string  `yaml:"vocab_file" mapstructure:"vocab_file"`
}

// Thresholds returns the QA gate thresholds.
func (q QualityConfig) Thresholds() qa.Thresholds {
	return qa.Thresholds{MaxEffectSize: q.MaxEffectSize, MinSampleSize: q.MinSampleSize}
}

// Limits returns the effect-size plausibility limits.
func (q QualityConfig) Limits() effectsize.Limits {
	return effectsize.Limits{MaxG: q.MaxEffectSize, MinN: q.MinSampleSize}
}

// Targets returns the reliability targets.
func (q QualityConfig) Targets() reliability.Targets {
	return reliability.Targets{Kappa: q.KappaCategorical, ICC: q.ICCNumerical}
}

// Vocabulary returns the built-in vocabulary, overridden by VocabFile when
// set.
func (q QualityConfig) Vocabulary() (qa.Vocabulary, error) {
	if q.VocabFile == "" {
		return qa.DefaultVocabulary(), nil
	}
	return qa.LoadVocabulary(q.VocabFile)
}

// CleaningOptions returns the cleaning thresholds with vocab.
func (q QualityConfig) CleaningOptions(vocab qa.Vocabulary) cleaning.Options {
	return cleaning.Options{
		MaxEffectSize: q.MaxEffectSize,
		MinSampleSize: q.MinSampleSize,
		OutlierZ:      q.OutlierZ,
		Vocabulary:    vocab,
	}
}

// ConsensusConfig configures the consensus batch.
type ConsensusConfig struct {
	MaxConcurrentStudies int         `yaml:"max_concurrent_studies" mapstructure:"max_concurrent_studies"`
	Retry                RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig bounds retries of transient model API failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Policy converts the config to a retry policy. Unset values take the
// policy defaults.
func (r RetryConfig) Policy() resilience.Policy {
	p := resilience.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	return p
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("METAEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.database_url", "metaextract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("paths.extracted", "data/extracted")
	v.SetDefault("paths.verified", "data/verified")
	v.SetDefault("paths.final", "data/final")
	v.SetDefault("paths.icr", "data/icr")
	v.SetDefault("paths.logs", "logs")
	v.SetDefault("models.claude.provider", ProviderAnthropic)
	v.SetDefault("models.claude.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("models.gpt4o.provider", ProviderOpenAI)
	v.SetDefault("models.gpt4o.model", "gpt-4o")
	v.SetDefault("models.groq.provider", ProviderOpenAI)
	v.SetDefault("models.groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("models.groq.base_url", "https://api.groq.com/openai/v1")
	for _, name := range []string{"claude", "gpt4o", "groq"} {
		v.SetDefault("models."+name+".max_tokens", 4096)
		v.SetDefault("models."+name+".temperature", 0.0)
		v.SetDefault("models."+name+".api_key", "")
		v.SetDefault("models."+name+".requests_per_minute", 0)
	}
	v.SetDefault("quality.max_effect_size", 5.0)
	v.SetDefault("quality.min_sample_size", 10)
	v.SetDefault("quality.human_sample_pct", 0.20)
	v.SetDefault("quality.kappa_categorical", 0.80)
	v.SetDefault("quality.icc_numerical", 0.85)
	v.SetDefault("quality.outlier_z", 3.5)
	v.SetDefault("quality.icr_seed", reliability.DefaultSeed)
	v.SetDefault("quality.vocab_file", "")
	v.SetDefault("consensus.max_concurrent_studies", 4)
	v.SetDefault("consensus.retry.max_attempts", 3)
	v.SetDefault("consensus.retry.initial_backoff_ms", 2000)
	v.SetDefault("consensus.retry.max_backoff_ms", 30000)

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
	cfg.Pricing = cost.Merge(cfg.Pricing)

	return &cfg, nil
}

// Validation modes.
const (
	ModeConsensus = "consensus"
	ModeAnalysis  = "analysis"
	ModeServe     = "serve"
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case ModeConsensus:
		for _, m := range c.Models.Named() {
			if m.Model == "" {
				errs = append(errs, "models."+m.Name+".model is required")
			}
			if m.APIKey == "" {
				errs = append(errs, "models."+m.Name+".api_key is required")
			}
			if m.Provider != ProviderAnthropic && m.Provider != ProviderOpenAI {
				errs = append(errs, "models."+m.Name+".provider must be anthropic or openai")
			}
		}
		if n := c.Consensus.MaxConcurrentStudies; n < 1 || n > 50 {
			errs = append(errs, "consensus.max_concurrent_studies must be between 1 and 50")
		}
	case ModeAnalysis:
	case ModeServe:
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver == store.DriverPostgres && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	q := c.Quality
	if q.MaxEffectSize <= 0 {
		errs = append(errs, "quality.max_effect_size must be > 0")
	}
	if q.MinSampleSize < 1 {
		errs = append(errs, "quality.min_sample_size must be >= 1")
	}
	if q.HumanSamplePct <= 0 || q.HumanSamplePct > 1 {
		errs = append(errs, "quality.human_sample_pct must be in (0, 1]")
	}
	if q.KappaCategorical < 0 || q.KappaCategorical > 1 || q.ICCNumerical < 0 || q.ICCNumerical > 1 {
		errs = append(errs, "quality.kappa_categorical and quality.icc_numerical must be in [0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
