package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/observability"
)

// EnvPrefix is the prefix of every environment variable override
const EnvPrefix = "CIRCLEMON"

// Config holds the runtime configuration of circlemon
type Config struct {
	CirclesFile    string        `mapstructure:"circles_file"`
	LogLevel       string        `mapstructure:"log_level"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	Interval       time.Duration `mapstructure:"interval"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	AzBinary       string        `mapstructure:"az_binary"`
	WatchCircles   bool          `mapstructure:"watch_circles"`

	Auth    AuthConfig    `mapstructure:"auth"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Events  EventsConfig  `mapstructure:"events"`
}

// AuthConfig configures trigger token validation
type AuthConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// EventsConfig bounds the in-memory audit trail
type EventsConfig struct {
	MaxSize   int           `mapstructure:"max_size"`
	Retention time.Duration `mapstructure:"retention"`
}

// flagKeys maps configuration keys to the flags that may override them
var flagKeys = map[string]string{
	"circles_file":     "circles-file",
	"log_level":        "log-level",
	"listen_addr":      "listen-addr",
	"interval":         "interval",
	"run_on_start":     "run-on-start",
	"max_concurrency":  "max-concurrency",
	"probe_timeout":    "probe-timeout",
	"trigger_timeout":  "trigger-timeout",
	"http_timeout":     "http-timeout",
	"az_binary":        "az-binary",
	"watch_circles":    "watch-circles",
	"auth.signing_key": "signing-key",
	"tracing.enabled":  "tracing-enabled",
	"tracing.endpoint": "tracing-endpoint",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("circles_file", "circles_params.yaml")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", "0.0.0.0:8080")
	v.SetDefault("interval", 5*time.Minute)
	v.SetDefault("run_on_start", true)
	v.SetDefault("max_concurrency", 0)
	v.SetDefault("probe_timeout", 30*time.Second)
	v.SetDefault("trigger_timeout", 60*time.Second)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("az_binary", "az")
	v.SetDefault("watch_circles", false)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("events.max_size", 1000)
	v.SetDefault("events.retention", 24*time.Hour)
}

// LoadConfig loads configuration with the precedence flags > environment >
// config file > defaults
func LoadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, flag := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.CirclesFile == "" {
		return fmt.Errorf("circles_file is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.ProbeTimeout <= 0 || c.TriggerTimeout <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// NewLogger builds the process logger for the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	return observability.NewLogger(c.LogLevel)
}

// TracerConfig converts the tracing section
func (c *Config) TracerConfig(version string) observability.TracerConfig {
	return observability.TracerConfig{
		Enabled:        c.Tracing.Enabled,
		Endpoint:       c.Tracing.Endpoint,
		ServiceName:    "circlemon",
		ServiceVersion: version,
		SampleRate:     c.Tracing.SampleRate,
		Insecure:       c.Tracing.Insecure,
	}
}
