package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/conductor/pkg/condition"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// ToolRunner executes tools on behalf of strategy steps
type ToolRunner interface {
	Execute(ctx context.Context, name string, params map[string]interface{}) (*toolexecutor.ExecutionResult, error)
}

// Config holds engine limits
type Config struct {
	MaxConcurrentSteps int
	MaxStepsPerRun     int

	// Adaptive self-retry backoff: RetryDelay * BackoffFactor^(retry-1)
	RetryDelay    time.Duration
	BackoffFactor float64
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps: 5,
		MaxStepsPerRun:     100,
		RetryDelay:         time.Second,
		BackoffFactor:      2.0,
	}
}

// Engine holds strategies and drives their execution
type Engine struct {
	cfg        Config
	tools      ToolRunner
	store      Store
	evaluator  *condition.Evaluator
	strategies map[string]*Strategy
	order      []string
	logger     zerolog.Logger
	mu         sync.RWMutex
	persistMu  sync.Mutex
}

// NewEngine creates a strategy engine. store may be nil, in which case
// metrics are kept in memory only.
func NewEngine(cfg Config, tools ToolRunner, store Store, logger zerolog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxConcurrentSteps <= 0 {
		cfg.MaxConcurrentSteps = defaults.MaxConcurrentSteps
	}
	if cfg.MaxStepsPerRun <= 0 {
		cfg.MaxStepsPerRun = defaults.MaxStepsPerRun
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = defaults.BackoffFactor
	}

	return &Engine{
		cfg:        cfg,
		tools:      tools,
		store:      store,
		evaluator:  condition.NewEvaluator(),
		strategies: make(map[string]*Strategy),
		logger:     logger.With().Str("component", "strategy-engine").Logger(),
	}
}

// Register validates and stores a copy of in. The caller's value is never
// modified. A replaced strategy keeps its position in registration order.
func (e *Engine) Register(in *Strategy) error {
	if in == nil {
		return fmt.Errorf("%w: nil strategy", ErrInvalidStrategy)
	}
	s := in.Clone()
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.strategies[s.ID]; !exists {
		e.order = append(e.order, s.ID)
	}
	e.strategies[s.ID] = s

	e.logger.Info().
		Str("strategy", s.ID).
		Str("mode", string(s.Mode)).
		Int("steps", len(s.Steps)).
		Msg("Strategy registered")

	return nil
}

// Remove drops a strategy from the engine
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.strategies[id]; !ok {
		return false
	}
	delete(e.strategies, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}

	e.logger.Info().Str("strategy", id).Msg("Strategy removed")
	return true
}

// Get returns a copy of a strategy
func (e *Engine) Get(id string) (*Strategy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return s.Clone(), nil
}

// List returns copies of all strategies in registration order
func (e *Engine) List() []*Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Strategy, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.strategies[id].Clone())
	}
	return out
}

// LoadFromStore registers every strategy the store holds
func (e *Engine) LoadFromStore() (int, error) {
	if e.store == nil {
		return 0, nil
	}

	strategies, err := e.store.List()
	if err != nil {
		return 0, err
	}

	sort.Slice(strategies, func(i, j int) bool { return strategies[i].ID < strategies[j].ID })

	loaded := 0
	for _, s := range strategies {
		if err := e.Register(s); err != nil {
			e.logger.Warn().Err(err).Str("strategy", s.ID).Msg("Skipping invalid strategy")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// recordRun applies the post-run EMA and persists the strategy
func (e *Engine) recordRun(id string, successful, total int) {
	ratio := 0.0
	if total > 0 {
		ratio = float64(successful) / float64(total)
	}

	// persistMu keeps saves in the same order as the updates
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	s, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	s.SuccessRate = s.SuccessRate*0.9 + ratio*0.1
	s.UsageCount++
	s.UpdatedAt = time.Now().UTC()
	snapshot := s.Clone()
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	if err := e.store.Save(snapshot); err != nil {
		e.logger.Error().Err(err).Str("strategy", id).Msg("Failed to persist strategy metrics")
	}
}
