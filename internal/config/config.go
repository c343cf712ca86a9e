// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Weight    WeightConfig    `mapstructure:"weight"`
	Results   ResultsConfig   `mapstructure:"results"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig maps API key strings to owner identifiers. Requests without a
// key run as anonymous; requests with an unknown key are rejected.
type AuthConfig struct {
	AuthorizedKeys map[string]string `mapstructure:"authorized_keys"`
}

// AdmissionConfig bounds concurrent anonymous runs.
type AdmissionConfig struct {
	MaxAnonymous int `mapstructure:"max_anonymous"`
}

// WorkerConfig governs the execution pool behavior.
type WorkerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	RunTimeoutSeconds int    `mapstructure:"run_timeout_seconds"`
	Collector         string `mapstructure:"collector"`
}

// BrowserConfig configures the chromedp instrumentation collector.
type BrowserConfig struct {
	UserAgent     string  `mapstructure:"user_agent"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
	DeviceDefault string  `mapstructure:"device_default"`
}

// WeightConfig configures the asset re-download tool.
type WeightConfig struct {
	MaxAssets      int `mapstructure:"max_assets"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ResultsConfig controls result retention. A zero TTL keeps results for the
// process lifetime.
type ResultsConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8387)
	v.SetDefault("admission.max_anonymous", 10)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.run_timeout_seconds", 120)
	v.SetDefault("worker.collector", "browser")
	v.SetDefault("browser.user_agent", "pageaudit-bot/0.1")
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.domain_qps", 1)
	v.SetDefault("browser.device_default", "desktop")
	v.SetDefault("weight.max_assets", 100)
	v.SetDefault("weight.timeout_seconds", 20)
	v.SetDefault("results.ttl_seconds", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Admission.MaxAnonymous <= 0 {
		return fmt.Errorf("admission.max_anonymous must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.run_timeout_seconds must be > 0")
	}
	switch c.Worker.Collector {
	case "browser", "fake":
	default:
		return fmt.Errorf("worker.collector must be browser or fake, got %q", c.Worker.Collector)
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	return nil
}

// RunTimeout converts the worker timeout knob into a duration.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Worker.RunTimeoutSeconds) * time.Second
}

// ResultTTL converts the retention knob into a duration. Zero disables
// eviction.
func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.Results.TTLSeconds) * time.Second
}
