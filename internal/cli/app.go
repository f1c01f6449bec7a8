package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/conductor/internal/config"
	"github.com/harun/conductor/internal/logger"
	"github.com/harun/conductor/internal/tracing"
	"github.com/harun/conductor/pkg/hooks"
	"github.com/harun/conductor/pkg/orchestrator"
)

const serviceName = "conductor"

// app bundles what a command needs: loaded config, logger, hooks and the service
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	hooks   *hooks.Manager
	service *orchestrator.Service
}

// openApp loads configuration and starts the orchestrator. One-shot commands
// pass daemon=false, which disables the strategy watcher and the maintenance
// schedule.
func openApp(cmd *cobra.Command, daemon bool) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Output:    cmd.ErrOrStderr(),
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := tracing.InitOpenTelemetry(serviceName); err != nil {
		zl := log.Zerolog()
		zl.Warn().Err(err).Msg("Tracing disabled")
	}

	hookList := make([]hooks.Hook, 0, len(cfg.Hooks.Hooks))
	for _, h := range cfg.Hooks.Hooks {
		hookList = append(hookList, hooks.Hook{
			ID:      h.ID,
			Event:   h.Event,
			Script:  h.Script,
			Timeout: h.Timeout,
			Enabled: h.Enabled,
		})
	}
	a.hooks, err = hooks.NewManager(hooks.Config{
		Enabled: cfg.Hooks.Enabled,
		Hooks:   hookList,
		Logger:  log.Zerolog(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure hooks: %w", err)
	}

	svcCfg := orchestrator.FromAppConfig(cfg)
	if !daemon {
		svcCfg.Watch = false
		svcCfg.Maintenance.Schedule = ""
	}
	a.service, err = orchestrator.New(svcCfg, orchestrator.Dependencies{
		Logger: log.Zerolog(),
		Hooks:  a.hooks,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadConfig reads and validates the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Close stops the service, flushes traces and closes the log file
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.service != nil {
		errs = append(errs, a.service.Close(ctx))
	} else if a.hooks != nil {
		errs = append(errs, a.hooks.Wait(ctx))
	}
	errs = append(errs, tracing.ShutdownOpenTelemetry(ctx))
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and always closes the app afterwards
func withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.Background()))
	}()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// printResult writes the result and turns a failed result into an error
func printResult(cmd *cobra.Command, res orchestrator.Result) error {
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Category, res.Message)
	}
	return nil
}

// parseObject decodes a JSON object flag. Empty input yields an empty map.
func parseObject(flag, raw string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return out, nil
}
