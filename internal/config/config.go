// Package config handles configuration loading for orchestra.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/orchestra-core/orchestra/internal/state"
)

// Config holds all configuration for an orchestra process.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Spool     SpoolConfig     `mapstructure:"spool"`
	Router    RouterConfig    `mapstructure:"router"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// AnthropicConfig holds Anthropic API settings for the LLM connector.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// DatabaseConfig holds the state database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds result-routing transport settings.
type NATSConfig struct {
	// URL of the NATS server; empty disables NATS and uses the in-process
	// transport.
	URL string `mapstructure:"url"`
}

// WorkersConfig holds worker pool settings.
type WorkersConfig struct {
	// Size is the number of concurrent queue workers.
	Size int `mapstructure:"size"`
	// VisibilityTimeout is how long a claimed queue attempt stays invisible
	// before redelivery.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// DefaultsConfig holds batch-level defaults applied when a submission leaves
// them unset.
type DefaultsConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	FailurePolicy string        `mapstructure:"failure_policy"`
	MaxRetries    int           `mapstructure:"max_retries"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
}

// AgentsConfig holds agent pool health settings.
type AgentsConfig struct {
	// HeartbeatTTL is how long an agent may go without a heartbeat before
	// it is marked offline.
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	// Listen is the address of the metrics HTTP endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}

// SpoolConfig holds the batch spool directory settings. Batch definition
// files dropped into the directory are submitted automatically.
type SpoolConfig struct {
	Dir string `mapstructure:"dir"`
}

// RouterConfig holds result-correlation settings.
type RouterConfig struct {
	// SessionGrace is how long a closed session remains resolvable.
	SessionGrace time.Duration `mapstructure:"session_grace"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogDir  string `mapstructure:"log_dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, ORCHESTRA_*)
// 2. Project config (.orchestra.yaml in current directory or parent)
// 3. User config (~/.config/orchestra/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("ORCHESTRA")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("nats.url", "NATS_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("database.path", state.DefaultDBPath())

	v.SetDefault("nats.url", "")

	v.SetDefault("workers.size", 4)
	v.SetDefault("workers.visibility_timeout", "5m")

	v.SetDefault("defaults.concurrency", 4)
	v.SetDefault("defaults.failure_policy", "best_effort")
	v.SetDefault("defaults.max_retries", 0)
	v.SetDefault("defaults.task_timeout", "10m")

	v.SetDefault("agents.heartbeat_ttl", "90s")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("spool.dir", "")

	v.SetDefault("router.session_grace", "2m")

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.log_dir", "")
}

// getUserConfigDir returns the XDG config directory for orchestra.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "orchestra")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "orchestra")
	}
	return filepath.Join(home, ".config", "orchestra")
}

// findProjectConfig searches for .orchestra.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".orchestra.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: state.DefaultDBPath()},
		Workers: WorkersConfig{
			Size:              4,
			VisibilityTimeout: 5 * time.Minute,
		},
		Defaults: DefaultsConfig{
			Concurrency:   4,
			FailurePolicy: "best_effort",
			TaskTimeout:   10 * time.Minute,
		},
		Agents: AgentsConfig{HeartbeatTTL: 90 * time.Second},
		Router: RouterConfig{SessionGrace: 2 * time.Minute},
	}
}
