package config

import (
	"compress/gzip"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates individual configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSchedule checks a cron spec such as "@every 10m" or "0 3 * * *".
// An empty schedule disables periodic maintenance.
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cache.cleanup_interval %q: %w", spec, err)
	}
	return nil
}

// ValidateCompressionLevel checks a gzip compression level
func (v *Validator) ValidateCompressionLevel(level int) error {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return fmt.Errorf("cache.compression_level must be between %d and %d, got %d",
			gzip.HuffmanOnly, gzip.BestCompression, level)
	}
	return nil
}

// ValidateBackend checks the durable cache backend name
func (v *Validator) ValidateBackend(backend string) error {
	switch backend {
	case "sqlite", "badger", "none", "":
		return nil
	default:
		return fmt.Errorf("invalid cache.backend %q (must be: sqlite, badger, none)", backend)
	}
}

// ValidateRatio checks that a value lies in [0,1]
func (v *Validator) ValidateRatio(name string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", name, value)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q (must be: debug, info, warn, error)", level)
	}
}

// ValidateHook validates a hook definition
func (v *Validator) ValidateHook(hook HookConfig) error {
	if !hook.Enabled {
		return nil
	}
	if strings.TrimSpace(hook.Event) == "" {
		return fmt.Errorf("hook event is required")
	}
	if strings.TrimSpace(hook.Script) == "" {
		return fmt.Errorf("hook script is required for event %q", hook.Event)
	}
	if hook.Timeout < 0 {
		return fmt.Errorf("hook timeout cannot be negative")
	}
	return nil
}
