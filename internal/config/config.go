// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Runner  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
	Healing HealingConfig `mapstructure:"healing" yaml:"healing"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for console log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	NavigationWait  time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
}

// RunnerConfig tunes step execution.
type RunnerConfig struct {
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`
	DefaultRetryDelay  time.Duration `mapstructure:"default_retry_delay" yaml:"default_retry_delay"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// HealingConfig tunes the selector resolver.
type HealingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	MinConfidence  float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	EnableLearning bool    `mapstructure:"enable_learning" yaml:"enable_learning"`
}

// HistoryConfig selects and configures the healing-history backend.
// Backend is "file" or "postgres". MaxAge, when positive, makes lookups
// ignore entries older than the given age; zero disables staleness filtering.
type HistoryConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Path    string        `mapstructure:"path" yaml:"path"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// EngineConfig configures the run engine.
type EngineConfig struct {
	RunConcurrency    int           `mapstructure:"run_concurrency" yaml:"run_concurrency"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	DefaultRunTimeout time.Duration `mapstructure:"default_run_timeout" yaml:"default_run_timeout"`
	ArtifactsDir      string        `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
}

// SetDefaults registers the default configuration values on a viper instance.
// Called before ReadInConfig so a missing file still yields a usable config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "stitch")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_wait", 500*time.Millisecond)

	v.SetDefault("runner.default_step_timeout", 30*time.Second)
	v.SetDefault("runner.default_retry_delay", time.Second)
	v.SetDefault("runner.max_backoff", 30*time.Second)

	v.SetDefault("healing.enabled", true)
	v.SetDefault("healing.min_confidence", 0.6)
	v.SetDefault("healing.enable_learning", true)

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.max_age", time.Duration(0))

	v.SetDefault("engine.run_concurrency", 2)
	v.SetDefault("engine.queue_size", 16)
	v.SetDefault("engine.default_run_timeout", 15*time.Minute)
	v.SetDefault("engine.artifacts_dir", "results")
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	if c.Healing.MinConfidence < 0 || c.Healing.MinConfidence > 1 {
		return fmt.Errorf("healing.min_confidence must be in [0,1], got %v", c.Healing.MinConfidence)
	}
	switch c.History.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("history.backend must be \"file\" or \"postgres\", got %q", c.History.Backend)
	}
	if c.History.Backend == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.backend is postgres but history.dsn is empty")
	}
	if c.Engine.RunConcurrency < 0 {
		return fmt.Errorf("engine.run_concurrency must be >= 0")
	}
	return nil
}

// HistoryPath resolves the healing-history file location, defaulting to
// ~/.stitch/healing_history.json when unset.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".stitch", "healing_history.json"), nil
}
