// Package config loads bot configuration from files and KEPHASCORD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/luciancaetano/kephascord"
)

// EnvPrefix prefixes every environment variable, e.g. KEPHASCORD_TOKEN or KEPHASCORD_REST_MAX_ATTEMPTS.
const EnvPrefix = "KEPHASCORD"

// Config is the complete bot configuration.
type Config struct {
	Token   string `mapstructure:"token"`
	Intents int64  `mapstructure:"intents"`

	REST     RESTConfig     `mapstructure:"rest"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// RESTConfig configures the REST client and its scheduler.
type RESTConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	GlobalRate     float64       `mapstructure:"global_rate"`
	GlobalBurst    int           `mapstructure:"global_burst"`
}

// GatewayConfig configures the gateway session.
type GatewayConfig struct {
	URL            string        `mapstructure:"url"`
	HelloTimeout   time.Duration `mapstructure:"hello_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MinBackoff     time.Duration `mapstructure:"min_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	LargeThreshold int           `mapstructure:"large_threshold"`
}

// DispatchConfig configures event dispatch.
type DispatchConfig struct {
	Async bool `mapstructure:"async"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Addr is where an application may serve /metrics. Empty disables serving.
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("token", "")
	v.SetDefault("intents", 513) // guilds | guild messages

	v.SetDefault("rest.base_url", kephascord.DefaultBaseURL)
	v.SetDefault("rest.user_agent", kephascord.DefaultUserAgent)
	v.SetDefault("rest.max_attempts", 5)
	v.SetDefault("rest.attempt_timeout", 15*time.Second)
	v.SetDefault("rest.retry_backoff", time.Second)
	v.SetDefault("rest.global_rate", 50.0)
	v.SetDefault("rest.global_burst", 50)

	v.SetDefault("gateway.url", kephascord.DefaultGatewayURL)
	v.SetDefault("gateway.hello_timeout", 20*time.Second)
	v.SetDefault("gateway.write_timeout", 10*time.Second)
	v.SetDefault("gateway.min_backoff", time.Second)
	v.SetDefault("gateway.max_backoff", 2*time.Minute)
	v.SetDefault("gateway.large_threshold", 50)

	v.SetDefault("dispatch.async", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. path names an optional config file (yaml,
// json, toml or .env); environment variables override file values, which
// override defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if c.Intents < 0 {
		errs = append(errs, errors.New("intents must not be negative"))
	}
	if c.REST.BaseURL == "" {
		errs = append(errs, errors.New("rest.base_url is required"))
	}
	if c.REST.MaxAttempts < 1 {
		errs = append(errs, errors.New("rest.max_attempts must be at least 1"))
	}
	if c.REST.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("rest.attempt_timeout must be positive"))
	}
	if c.REST.GlobalRate < 0 {
		errs = append(errs, errors.New("rest.global_rate must not be negative"))
	}
	if c.REST.GlobalRate > 0 && c.REST.GlobalBurst < 1 {
		errs = append(errs, errors.New("rest.global_burst must be at least 1 when global_rate is set"))
	}
	if c.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.url is required"))
	}
	if c.Gateway.MinBackoff <= 0 || c.Gateway.MaxBackoff < c.Gateway.MinBackoff {
		errs = append(errs, errors.New("gateway backoff must satisfy 0 < min_backoff <= max_backoff"))
	}
	if c.Gateway.LargeThreshold != 0 && (c.Gateway.LargeThreshold < 50 || c.Gateway.LargeThreshold > 250) {
		errs = append(errs, errors.New("gateway.large_threshold must be between 50 and 250"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
