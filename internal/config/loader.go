package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "CONDUCTOR"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file (JSON or YAML), applies CONDUCTOR_* environment
// overrides and fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, DefaultConfig())

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.fillPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fillPaths derives storage locations from the data directory
func (l *Loader) fillPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".conductor")
	}

	if cfg.Strategy.Dir == "" {
		cfg.Strategy.Dir = filepath.Join(cfg.DataDir, "strategies")
	}
	if cfg.Tools.ManifestDir == "" {
		cfg.Tools.ManifestDir = filepath.Join(cfg.DataDir, "tools")
	}
	if cfg.Cache.Path == "" {
		switch cfg.Cache.Backend {
		case "badger":
			cfg.Cache.Path = filepath.Join(cfg.DataDir, "cache.badger")
		default:
			cfg.Cache.Path = filepath.Join(cfg.DataDir, "cache.db")
		}
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".conductor", "conductor.yaml")
}

// bindDefaults registers every default so AutomaticEnv can override keys
// that never appear in the config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("tools.max_concurrent_tools", cfg.Tools.MaxConcurrentTools)
	v.SetDefault("tools.default_timeout", cfg.Tools.DefaultTimeout)
	v.SetDefault("tools.max_retries", cfg.Tools.MaxRetries)
	v.SetDefault("tools.retry_delay", cfg.Tools.RetryDelay)
	v.SetDefault("tools.retry_backoff_factor", cfg.Tools.RetryBackoffFactor)
	v.SetDefault("tools.dependency_injection", cfg.Tools.DependencyInjection)
	v.SetDefault("tools.manifest_dir", cfg.Tools.ManifestDir)
	v.SetDefault("tools.workspace_root", cfg.Tools.WorkspaceRoot)

	v.SetDefault("strategy.max_concurrent_steps", cfg.Strategy.MaxConcurrentSteps)
	v.SetDefault("strategy.max_chain_length", cfg.Strategy.MaxChainLength)
	v.SetDefault("strategy.max_steps_per_run", cfg.Strategy.MaxStepsPerRun)
	v.SetDefault("strategy.dir", cfg.Strategy.Dir)
	v.SetDefault("strategy.watch", cfg.Strategy.Watch)
	v.SetDefault("strategy.memoize", cfg.Strategy.Memoize)

	v.SetDefault("cache.max_size_bytes", cfg.Cache.MaxSizeBytes)
	v.SetDefault("cache.compression_enabled", cfg.Cache.CompressionEnabled)
	v.SetDefault("cache.compression_threshold_bytes", cfg.Cache.CompressionThresholdBytes)
	v.SetDefault("cache.compression_level", cfg.Cache.CompressionLevel)
	v.SetDefault("cache.cleanup_interval", cfg.Cache.CleanupInterval)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.compact_threshold", cfg.Cache.CompactThreshold)
	v.SetDefault("cache.relevance_threshold", cfg.Cache.RelevanceThreshold)

	v.SetDefault("recovery.enabled", cfg.Recovery.Enabled)
	v.SetDefault("recovery.base_delay", cfg.Recovery.BaseDelay)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetDefault("data_dir", cfg.DataDir)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
