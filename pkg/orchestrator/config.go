package orchestrator

import (
	"time"

	"github.com/harun/conductor/internal/config"
	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// Config holds the settings of every composed component
type Config struct {
	Tools         toolexecutor.Config
	ManifestDir   string
	WorkspaceRoot string

	Strategy       strategy.Config
	StrategyDir    string
	StrategyFormat string
	Watch          bool
	Memoize        bool

	Cache        cache.Config
	CacheBackend string
	CachePath    string
	Maintenance  cache.MaintenanceConfig

	RecoveryEnabled   bool
	RecoveryBaseDelay time.Duration
}

// DefaultConfig returns an in-memory configuration with no durable state
func DefaultConfig() Config {
	return Config{
		Tools:             toolexecutor.DefaultConfig(),
		Strategy:          strategy.DefaultConfig(),
		Cache:             cache.DefaultConfig(),
		CacheBackend:      cache.BackendNone,
		Maintenance:       cache.DefaultMaintenanceConfig(),
		RecoveryEnabled:   true,
		RecoveryBaseDelay: time.Second,
	}
}

// FromAppConfig maps the loaded application config onto the service config
func FromAppConfig(cfg *config.Config) Config {
	tools := toolexecutor.Config{
		MaxConcurrentTools:  cfg.Tools.MaxConcurrentTools,
		DefaultTimeout:      cfg.Tools.DefaultTimeout,
		MaxRetries:          cfg.Tools.MaxRetries,
		RetryDelay:          cfg.Tools.RetryDelay,
		RetryBackoffFactor:  cfg.Tools.RetryBackoffFactor,
		MaxChainLength:      cfg.Strategy.MaxChainLength,
		DependencyInjection: cfg.Tools.DependencyInjection,
	}

	return Config{
		Tools:         tools,
		ManifestDir:   cfg.Tools.ManifestDir,
		WorkspaceRoot: cfg.Tools.WorkspaceRoot,

		Strategy: strategy.Config{
			MaxConcurrentSteps: cfg.Strategy.MaxConcurrentSteps,
			MaxStepsPerRun:     cfg.Strategy.MaxStepsPerRun,
			RetryDelay:         cfg.Tools.RetryDelay,
			BackoffFactor:      cfg.Tools.RetryBackoffFactor,
		},
		StrategyDir:    cfg.Strategy.Dir,
		StrategyFormat: "yaml",
		Watch:          cfg.Strategy.Watch,
		Memoize:        cfg.Strategy.Memoize,

		Cache: cache.Config{
			MaxSizeBytes:              cfg.Cache.MaxSizeBytes,
			CompressionEnabled:        cfg.Cache.CompressionEnabled,
			CompressionThresholdBytes: cfg.Cache.CompressionThresholdBytes,
			CompressionLevel:          cfg.Cache.CompressionLevel,
		},
		CacheBackend: cfg.Cache.Backend,
		CachePath:    cfg.Cache.Path,
		Maintenance: cache.MaintenanceConfig{
			Schedule:           cfg.Cache.CleanupInterval,
			CompactThreshold:   cfg.Cache.CompactThreshold,
			RelevanceThreshold: cfg.Cache.RelevanceThreshold,
		},

		RecoveryEnabled:   cfg.Recovery.Enabled,
		RecoveryBaseDelay: cfg.Recovery.BaseDelay,
	}
}
