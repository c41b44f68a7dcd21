// Package config provides configuration management for turnviz.
// It supports loading configuration from environment variables, a config
// file, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for turnviz.
type Config struct {
	Visualizer VisualizerConfig `mapstructure:"visualizer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

// VisualizerConfig holds EventForwarder tuning knobs.
type VisualizerConfig struct {
	// WSURL mirrors CODEX_VISUALIZER_WS; the forwarder constructor reads the
	// env var directly, so this field only matters for callers that build a
	// Config programmatically (tests, embedding) instead of via env vars.
	WSURL string `mapstructure:"wsUrl"`

	// QueueCapacity is the bounded FIFO capacity. The forwarder defaults to
	// 256; it is exposed here so operators can tune it without a code change.
	QueueCapacity int `mapstructure:"queueCapacity"`

	// MinBackoff / MaxBackoff bound the reconnect backoff in seconds.
	MinBackoffSeconds int `mapstructure:"minBackoffSeconds"`
	MaxBackoffSeconds int `mapstructure:"maxBackoffSeconds"`
}

// MinBackoff returns the configured minimum backoff as a time.Duration.
func (v *VisualizerConfig) MinBackoff() time.Duration {
	return time.Duration(v.MinBackoffSeconds) * time.Second
}

// MaxBackoff returns the configured maximum backoff as a time.Duration.
func (v *VisualizerConfig) MaxBackoff() time.Duration {
	return time.Duration(v.MaxBackoffSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DebugConfig holds the optional read-only debug HTTP surface.
type DebugConfig struct {
	// Addr is the listen address for the debug server (e.g. ":6061").
	// Empty disables the debug server entirely.
	Addr string `mapstructure:"addr"`
}

// detectDefaultLogFormat picks json in production-like environments and a
// human-readable console format otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TURNCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("visualizer.wsUrl", "")
	v.SetDefault("visualizer.queueCapacity", 256)
	v.SetDefault("visualizer.minBackoffSeconds", 1)
	v.SetDefault("visualizer.maxBackoffSeconds", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("debug.addr", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TURNCORE_ followed by the upper-cased
// key with dots replaced by underscores (e.g. TURNCORE_VISUALIZER_QUEUECAPACITY).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TURNCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// CODEX_VISUALIZER_WS is the authoritative env var per the external
	// interface contract; bind it explicitly since it doesn't follow the
	// TURNCORE_ prefix convention.
	_ = v.BindEnv("visualizer.wsUrl", "CODEX_VISUALIZER_WS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/turnviz/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Visualizer.QueueCapacity <= 0 {
		errs = append(errs, "visualizer.queueCapacity must be positive")
	}
	if cfg.Visualizer.MinBackoffSeconds <= 0 {
		errs = append(errs, "visualizer.minBackoffSeconds must be positive")
	}
	if cfg.Visualizer.MaxBackoffSeconds < cfg.Visualizer.MinBackoffSeconds {
		errs = append(errs, "visualizer.maxBackoffSeconds must be >= minBackoffSeconds")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
