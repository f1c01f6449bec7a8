package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Conductor configuration
type Config struct {
	// Tool registry and executor
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Strategy engine
	Strategy StrategyConfig `json:"strategy" mapstructure:"strategy"`

	// Unified cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Recovery coordinator
	Recovery RecoveryConfig `json:"recovery" mapstructure:"recovery"`

	// Lifecycle hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ToolsConfig holds tool registry settings
type ToolsConfig struct {
	MaxConcurrentTools  int           `json:"max_concurrent_tools" mapstructure:"max_concurrent_tools"`
	DefaultTimeout      time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
	MaxRetries          int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	RetryBackoffFactor  float64       `json:"retry_backoff_factor" mapstructure:"retry_backoff_factor"`
	DependencyInjection bool          `json:"dependency_injection" mapstructure:"dependency_injection"`
	ManifestDir         string        `json:"manifest_dir" mapstructure:"manifest_dir"`
	WorkspaceRoot       string        `json:"workspace_root" mapstructure:"workspace_root"` // enables read_file/write_file
}

// StrategyConfig holds strategy engine settings
type StrategyConfig struct {
	MaxConcurrentSteps int    `json:"max_concurrent_steps" mapstructure:"max_concurrent_steps"`
	MaxChainLength     int    `json:"max_chain_length" mapstructure:"max_chain_length"`
	MaxStepsPerRun     int    `json:"max_steps_per_run" mapstructure:"max_steps_per_run"`
	Dir                string `json:"dir" mapstructure:"dir"`
	Watch              bool   `json:"watch" mapstructure:"watch"`
	Memoize            bool   `json:"memoize" mapstructure:"memoize"`
}

// CacheConfig holds unified cache settings
type CacheConfig struct {
	MaxSizeBytes              int64   `json:"max_size_bytes" mapstructure:"max_size_bytes"`
	CompressionEnabled        bool    `json:"compression_enabled" mapstructure:"compression_enabled"`
	CompressionThresholdBytes int64   `json:"compression_threshold_bytes" mapstructure:"compression_threshold_bytes"`
	CompressionLevel          int     `json:"compression_level" mapstructure:"compression_level"`
	CleanupInterval           string  `json:"cleanup_interval" mapstructure:"cleanup_interval"` // cron spec, e.g. "@every 1h"
	Backend                   string  `json:"backend" mapstructure:"backend"`                   // sqlite, badger, none
	Path                      string  `json:"path" mapstructure:"path"`
	CompactThreshold          float64 `json:"compact_threshold" mapstructure:"compact_threshold"`
	RelevanceThreshold        float64 `json:"relevance_threshold" mapstructure:"relevance_threshold"`
}

// RecoveryConfig holds recovery coordinator settings
type RecoveryConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	BaseDelay time.Duration `json:"base_delay" mapstructure:"base_delay"`
}

// HooksConfig holds lifecycle hook settings
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Hooks   []HookConfig `json:"hooks" mapstructure:"hooks"`
}

// HookConfig is a single shell hook bound to an event
type HookConfig struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds Prometheus exporter settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Tools: ToolsConfig{
			MaxConcurrentTools:  10,
			DefaultTimeout:      30 * time.Second,
			MaxRetries:          3,
			RetryDelay:          time.Second,
			RetryBackoffFactor:  2.0,
			DependencyInjection: true,
		},
		Strategy: StrategyConfig{
			MaxConcurrentSteps: 5,
			MaxChainLength:     10,
			MaxStepsPerRun:     100,
		},
		Cache: CacheConfig{
			MaxSizeBytes:              100 * 1024 * 1024,
			CompressionEnabled:        true,
			CompressionThresholdBytes: 1024,
			CompressionLevel:          6,
			CleanupInterval:           "@every 1h",
			Backend:                   "sqlite",
			CompactThreshold:          0.3,
			RelevanceThreshold:        0.1,
		},
		Recovery: RecoveryConfig{
			Enabled:   true,
			BaseDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Tools.MaxConcurrentTools < 1 {
		return fmt.Errorf("tools.max_concurrent_tools must be at least 1, got %d", c.Tools.MaxConcurrentTools)
	}
	if c.Tools.DefaultTimeout <= 0 {
		return fmt.Errorf("tools.default_timeout must be positive")
	}
	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("tools.max_retries cannot be negative")
	}
	if c.Tools.RetryDelay < 0 {
		return fmt.Errorf("tools.retry_delay cannot be negative")
	}
	if c.Tools.RetryBackoffFactor < 1 {
		return fmt.Errorf("tools.retry_backoff_factor must be >= 1, got %v", c.Tools.RetryBackoffFactor)
	}

	if c.Strategy.MaxConcurrentSteps < 1 {
		return fmt.Errorf("strategy.max_concurrent_steps must be at least 1")
	}
	if c.Strategy.MaxChainLength < 1 {
		return fmt.Errorf("strategy.max_chain_length must be at least 1")
	}
	if c.Strategy.MaxStepsPerRun < 1 {
		return fmt.Errorf("strategy.max_steps_per_run must be at least 1")
	}

	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache.max_size_bytes must be positive")
	}
	if c.Cache.CompressionThresholdBytes < 0 {
		return fmt.Errorf("cache.compression_threshold_bytes cannot be negative")
	}
	if err := v.ValidateCompressionLevel(c.Cache.CompressionLevel); err != nil {
		return err
	}
	if err := v.ValidateSchedule(c.Cache.CleanupInterval); err != nil {
		return err
	}
	if err := v.ValidateBackend(c.Cache.Backend); err != nil {
		return err
	}
	if err := v.ValidateRatio("cache.compact_threshold", c.Cache.CompactThreshold); err != nil {
		return err
	}
	if err := v.ValidateRatio("cache.relevance_threshold", c.Cache.RelevanceThreshold); err != nil {
		return err
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	for i, hook := range c.Hooks.Hooks {
		if err := v.ValidateHook(hook); err != nil {
			return fmt.Errorf("hooks[%d]: %w", i, err)
		}
	}

	return nil
}
