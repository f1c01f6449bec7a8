// Package orchestrator composes the tool registry, strategy engine, cache and
// recovery coordinator into the operations callers use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/coretools"
	"github.com/harun/conductor/pkg/hooks"
	"github.com/harun/conductor/pkg/recovery"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// ErrNoStrategyAvailable is reported when selection finds no candidate
var ErrNoStrategyAvailable = errors.New("no strategy available")

// Dependencies are optional collaborators. Zero values are built from Config.
type Dependencies struct {
	Logger  zerolog.Logger
	Hooks   *hooks.Manager
	Durable cache.DurableStore
	Store   strategy.Store
	Tools   []toolexecutor.ToolDescriptor
}

// Service owns one instance of every component. Construct it with New and
// release it with Close.
type Service struct {
	cfg         Config
	tools       *toolexecutor.ToolExecutor
	engine      *strategy.Engine
	store       strategy.Store
	cache       *cache.Tiered
	maintenance *cache.Maintenance
	recovery    *recovery.Coordinator
	watcher     *strategy.Watcher
	hooks       *hooks.Manager
	logger      zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New builds and starts a service
func New(cfg Config, deps Dependencies) (svc *Service, err error) {
	logger := deps.Logger.With().Str("component", "orchestrator").Logger()
	s := &Service{cfg: cfg, hooks: deps.Hooks, logger: logger}

	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	toolCfg := cfg.Tools
	if cfg.ManifestDir != "" {
		manifests, err := toolexecutor.NewManifestStore(cfg.ManifestDir)
		if err != nil {
			return nil, err
		}
		toolCfg.Manifests = manifests
	}
	s.tools = toolexecutor.New(toolCfg)
	if err := coretools.RegisterCoreTools(s.tools, coretools.Options{WorkspaceRoot: cfg.WorkspaceRoot}); err != nil {
		return nil, err
	}

	durable := deps.Durable
	if durable == nil {
		durable, err = cache.OpenDurable(cfg.CacheBackend, cfg.CachePath, deps.Logger)
		if err != nil {
			return nil, err
		}
	}
	s.cache = cache.NewTiered(cache.New(cfg.Cache, deps.Logger), durable, deps.Logger)
	if err := cache.RegisterCacheTools(s.tools, s.cache); err != nil {
		return nil, err
	}
	if len(deps.Tools) > 0 {
		if err := s.tools.RegisterAll(deps.Tools); err != nil {
			return nil, err
		}
	}

	s.store = deps.Store
	if s.store == nil && cfg.StrategyDir != "" {
		fs, err := strategy.NewFileStore(cfg.StrategyDir, cfg.StrategyFormat)
		if err != nil {
			return nil, err
		}
		s.store = fs
	}
	s.engine = strategy.NewEngine(cfg.Strategy, s.tools, s.store, deps.Logger)
	loaded, err := s.engine.LoadFromStore()
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}

	if cfg.Watch && cfg.StrategyDir != "" {
		s.watcher, err = strategy.NewWatcher(s.engine, cfg.StrategyDir, deps.Logger)
		if err != nil {
			return nil, err
		}
		if err := s.watcher.Start(); err != nil {
			return nil, err
		}
	}

	s.recovery = recovery.NewCoordinator(recovery.Config{
		BaseDelay: cfg.RecoveryBaseDelay,
		Hooks:     deps.Hooks,
		Logger:    deps.Logger,
	})
	s.registerRecoveryActions()

	s.maintenance = cache.NewMaintenance(s.cache, cfg.Maintenance, deps.Logger)
	if err := s.maintenance.Start(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("tools", len(s.tools.List())).
		Int("strategies", loaded).
		Str("cache_backend", cfg.CacheBackend).
		Msg("Orchestrator started")
	return s, nil
}

// Tools returns the tool registry
func (s *Service) Tools() *toolexecutor.ToolExecutor {
	return s.tools
}

// Engine returns the strategy engine
func (s *Service) Engine() *strategy.Engine {
	return s.engine
}

// Cache returns the tiered cache
func (s *Service) Cache() *cache.Tiered {
	return s.cache
}

// Recovery returns the recovery coordinator
func (s *Service) Recovery() *recovery.Coordinator {
	return s.recovery
}

// Close stops background work and releases storage. Safe to call twice.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.watcher != nil {
			errs = append(errs, s.watcher.Stop())
		}
		if s.maintenance != nil {
			errs = append(errs, s.maintenance.Stop(ctx))
		}
		if s.cache != nil {
			errs = append(errs, s.cache.Close())
		}
		if s.hooks != nil {
			errs = append(errs, s.hooks.Wait(ctx))
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info().Err(s.closeErr).Msg("Orchestrator stopped")
	})
	return s.closeErr
}
