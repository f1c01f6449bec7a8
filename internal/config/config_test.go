package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Tools.MaxConcurrentTools)
	assert.Equal(t, 30*time.Second, cfg.Tools.DefaultTimeout)
	assert.Equal(t, 3, cfg.Tools.MaxRetries)
	assert.Equal(t, time.Second, cfg.Tools.RetryDelay)
	assert.Equal(t, 2.0, cfg.Tools.RetryBackoffFactor)
	assert.Equal(t, 5, cfg.Strategy.MaxConcurrentSteps)
	assert.Equal(t, 10, cfg.Strategy.MaxChainLength)
	assert.Equal(t, int64(100*1024*1024), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, int64(1024), cfg.Cache.CompressionThresholdBytes)
	assert.Equal(t, 6, cfg.Cache.CompressionLevel)
	assert.Equal(t, "@every 1h", cfg.Cache.CleanupInterval)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero concurrency", func(c *Config) { c.Tools.MaxConcurrentTools = 0 }, "max_concurrent_tools"},
		{"zero timeout", func(c *Config) { c.Tools.DefaultTimeout = 0 }, "default_timeout"},
		{"negative retries", func(c *Config) { c.Tools.MaxRetries = -1 }, "max_retries"},
		{"shrinking backoff", func(c *Config) { c.Tools.RetryBackoffFactor = 0.5 }, "retry_backoff_factor"},
		{"zero steps", func(c *Config) { c.Strategy.MaxConcurrentSteps = 0 }, "max_concurrent_steps"},
		{"zero chain", func(c *Config) { c.Strategy.MaxChainLength = 0 }, "max_chain_length"},
		{"zero cache", func(c *Config) { c.Cache.MaxSizeBytes = 0 }, "max_size_bytes"},
		{"bad level", func(c *Config) { c.Cache.CompressionLevel = 12 }, "compression_level"},
		{"bad schedule", func(c *Config) { c.Cache.CleanupInterval = "every so often" }, "cleanup_interval"},
		{"bad backend", func(c *Config) { c.Cache.Backend = "redis" }, "backend"},
		{"bad ratio", func(c *Config) { c.Cache.CompactThreshold = 1.5 }, "compact_threshold"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"hook without script", func(c *Config) {
			c.Hooks.Hooks = []HookConfig{{Event: "recovery.exhausted", Enabled: true}}
		}, "script"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.True(t, strings.Contains(s, `"max_concurrent_tools": 10`))
}

func TestValidatorSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@every 10m"))
	assert.NoError(t, v.ValidateSchedule("0 3 * * *"))
	assert.Error(t, v.ValidateSchedule("* * *"))
}
