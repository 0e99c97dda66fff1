// Package config loads configuration from config.yaml and the environment
// and owns the global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaycrm/enrich-core/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Quota   QuotaConfig   `yaml:"quota" mapstructure:"quota"`
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	AI      AIConfig      `yaml:"ai" mapstructure:"ai"`
	Probe   ProbeConfig   `yaml:"probe" mapstructure:"probe"`
	Secret  SecretConfig  `yaml:"secret" mapstructure:"secret"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// QuotaConfig holds the per-service daily request budgets.
type QuotaConfig struct {
	Screenshots int `yaml:"screenshots" mapstructure:"screenshots"`
	PageSpeed   int `yaml:"pagespeed" mapstructure:"pagespeed"`
	SerpAPI     int `yaml:"serpapi" mapstructure:"serpapi"`
	BuiltWith   int `yaml:"builtwith" mapstructure:"builtwith"`
}

// Limits converts the config block into the quota manager's map form.
func (q QuotaConfig) Limits() map[string]int {
	return map[string]int{
		"screenshots": q.Screenshots,
		"pagespeed":   q.PageSpeed,
		"serpapi":     q.SerpAPI,
		"builtwith":   q.BuiltWith,
	}
}

// BreakerConfig configures the per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	HalfOpenProbes   int `yaml:"half_open_probes" mapstructure:"half_open_probes"`
}

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
}

// AIConfig configures the completion providers.
type AIConfig struct {
	// Providers fanned out during AI field discovery, in priority order.
	Providers []string `yaml:"providers" mapstructure:"providers"`
	// BaseURLs overrides a provider's endpoint (gateways, test servers).
	BaseURLs map[string]string `yaml:"base_urls" mapstructure:"base_urls"`
}

// ProbeConfig holds the external probe service API keys. Keys may also live
// encrypted in the store; these are the environment/file fallback.
type ProbeConfig struct {
	PageSpeedKey   string `yaml:"pagespeed_key" mapstructure:"pagespeed_key"`
	ScreenshotsKey string `yaml:"screenshots_key" mapstructure:"screenshots_key"`
	BuiltWithKey   string `yaml:"builtwith_key" mapstructure:"builtwith_key"`
	WhoisKey       string `yaml:"whois_key" mapstructure:"whois_key"`
	SerpKey        string `yaml:"serp_key" mapstructure:"serp_key"`
}

// SecretConfig configures API key encryption at rest. The key must be 32
// bytes; empty disables encryption (keys stored as plaintext).
type SecretConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "enrich.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("quota.screenshots", model.DefaultScreenshotLimit)
	v.SetDefault("quota.pagespeed", model.DefaultPageSpeedLimit)
	v.SetDefault("quota.serpapi", model.DefaultSerpLimit)
	v.SetDefault("quota.builtwith", model.DefaultBuiltWithLimit)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_secs", 60)
	v.SetDefault("breaker.half_open_probes", 2)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 200)
	v.SetDefault("ai.providers", []string{"openai", "gemini"})

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
