// Package recovery classifies failures and runs bounded, backed-off
// remediation actions for them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/conductor/internal/observability"
	"github.com/harun/conductor/pkg/hooks"
)

// Built-in action names
const (
	ActionRetryOperation = "retry_operation"
	ActionNotify         = "notify"
	ActionResetToolStats = "reset_tool_stats"
	ActionClearCache     = "clear_cache"
	ActionCompactCache   = "compact_cache"
)

var (
	// ErrRecoveryExhausted is wrapped by every unrecovered outcome.
	ErrRecoveryExhausted = errors.New("recovery exhausted")

	// ErrNotRecoverable stops further attempts when returned by an action.
	ErrNotRecoverable = errors.New("not recoverable")

	// ErrUnknownAction is returned for strategies naming an unregistered action.
	ErrUnknownAction = errors.New("unknown recovery action")
)

// Operation describes the failed work. Retry, when set, re-runs it.
type Operation struct {
	Name   string
	Target string
	Retry  func(ctx context.Context) (interface{}, error)
	Data   map[string]interface{}
}

// Request is handed to each action
type Request struct {
	ID        string
	Failure   Failure
	Operation Operation
	Attempt   int
}

// ActionFunc performs one remediation step. A non-nil output is reported on
// the outcome when the pass succeeds.
type ActionFunc func(ctx context.Context, req Request) (interface{}, error)

// Strategy is the remediation plan for a category
type Strategy struct {
	Category      Category `json:"category"`
	Severity      Severity `json:"severity"`
	MaxAttempts   int      `json:"max_attempts"`
	BackoffFactor float64  `json:"backoff_factor"`
	Actions       []string `json:"actions"`
	SuccessRate   float64  `json:"success_rate"`
	Attempts      int64    `json:"attempts"`
}

// Outcome is the structured result of a recovery
type Outcome struct {
	ID        string      `json:"id"`
	Recovered bool        `json:"recovered"`
	Category  Category    `json:"category"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
	Attempts  int         `json:"attempts"`
	Output    interface{} `json:"output,omitempty"`
	Err       error       `json:"-"`
}

// DefaultStrategies returns the built-in plan for every category
func DefaultStrategies() map[Category]Strategy {
	plans := map[Category]Strategy{
		CategoryTimeout:       {MaxAttempts: 3, BackoffFactor: 2, Actions: []string{ActionRetryOperation}},
		CategoryToolExecution: {MaxAttempts: 3, BackoffFactor: 2, Actions: []string{ActionRetryOperation}},
		CategoryDependency:    {MaxAttempts: 1, BackoffFactor: 1, Actions: []string{ActionNotify}},
		CategoryValidation:    {MaxAttempts: 1, BackoffFactor: 1, Actions: []string{ActionNotify}},
		CategoryStorage:       {MaxAttempts: 2, BackoffFactor: 2, Actions: []string{ActionCompactCache, ActionRetryOperation}},
		CategoryNotFound:      {MaxAttempts: 1, BackoffFactor: 1, Actions: []string{ActionNotify}},
		CategoryCancelled:     {MaxAttempts: 0, BackoffFactor: 1},
		CategoryUnknown:       {MaxAttempts: 2, BackoffFactor: 2, Actions: []string{ActionRetryOperation}},
	}
	for category, plan := range plans {
		plan.Category = category
		plan.Severity = defaultSeverity[category]
		plan.SuccessRate = 0.5
		plans[category] = plan
	}
	return plans
}

// Config configures the coordinator
type Config struct {
	// BaseDelay is the unit multiplied by BackoffFactor^attempt between attempts.
	BaseDelay time.Duration
	Hooks     *hooks.Manager
	Logger    zerolog.Logger
}

// Coordinator runs recovery strategies. It never mutates other components
// directly; actions registered by the composing layer do.
type Coordinator struct {
	baseDelay time.Duration
	hooks     *hooks.Manager
	logger    zerolog.Logger

	mu         sync.Mutex
	strategies map[Category]*Strategy
	actions    map[string]ActionFunc
}

// NewCoordinator creates a coordinator with the default strategies and the
// retry_operation and notify actions.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	c := &Coordinator{
		baseDelay:  cfg.BaseDelay,
		hooks:      cfg.Hooks,
		logger:     cfg.Logger.With().Str("component", "recovery").Logger(),
		strategies: make(map[Category]*Strategy),
		actions:    make(map[string]ActionFunc),
	}
	for category, plan := range DefaultStrategies() {
		plan := plan
		c.strategies[category] = &plan
	}
	c.actions[ActionRetryOperation] = retryOperation
	c.actions[ActionNotify] = c.notify
	return c
}

// RegisterStrategy replaces the plan for s.Category
func (c *Coordinator) RegisterStrategy(s Strategy) error {
	if s.Category == "" {
		return fmt.Errorf("recovery strategy category is required")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	if s.BackoffFactor <= 0 {
		s.BackoffFactor = 1
	}
	if s.Severity == "" {
		s.Severity = defaultSeverity[s.Category]
		if s.Severity == "" {
			s.Severity = SeverityMedium
		}
	}
	if s.SuccessRate == 0 {
		s.SuccessRate = 0.5
	}
	s.Actions = append([]string(nil), s.Actions...)

	c.mu.Lock()
	c.strategies[s.Category] = &s
	c.mu.Unlock()
	return nil
}

// RegisterAction installs or replaces a named action
func (c *Coordinator) RegisterAction(name string, fn ActionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[name] = fn
}

// Strategy returns a copy of the plan for category
func (c *Coordinator) Strategy(category Category) (Strategy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.strategies[category]
	if !ok {
		return Strategy{}, false
	}
	out := *s
	out.Actions = append([]string(nil), s.Actions...)
	return out, true
}

// Strategies returns copies of all plans sorted by category
func (c *Coordinator) Strategies() []Strategy {
	c.mu.Lock()
	out := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		cp := *s
		cp.Actions = append([]string(nil), s.Actions...)
		out = append(out, cp)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Recover classifies err and runs the matching strategy. It always returns
// an outcome; unrecovered outcomes wrap ErrRecoveryExhausted.
func (c *Coordinator) Recover(ctx context.Context, err error, op Operation) Outcome {
	failure := Classify(err)
	id, idErr := gonanoid.New()
	if idErr != nil {
		id = fmt.Sprintf("rec-%d", time.Now().UnixNano())
	}

	plan, ok := c.Strategy(failure.Category)
	if !ok {
		plan, _ = c.Strategy(CategoryUnknown)
	}
	if plan.Severity != "" {
		failure.Severity = plan.Severity
	}

	logger := c.logger.With().
		Str("recovery_id", id).
		Str("operation", op.Name).
		Str("category", string(failure.Category)).
		Str("severity", string(failure.Severity)).
		Logger()
	logger.Info().Err(err).Msg("Starting recovery")

	outcome := Outcome{
		ID:       id,
		Category: failure.Category,
		Severity: failure.Severity,
	}

	lastErr := err
	for attempt := 1; attempt <= plan.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		observability.RecordRecoveryAttempt(string(failure.Category))

		output, passErr := c.runPass(ctx, plan.Actions, Request{
			ID:        id,
			Failure:   failure,
			Operation: op,
			Attempt:   attempt,
		})
		c.recordAttempt(failure.Category, passErr == nil)

		if passErr == nil {
			outcome.Recovered = true
			outcome.Output = output
			outcome.Message = fmt.Sprintf("recovered %s after %d attempt(s)", op.Name, attempt)
			logger.Info().Int("attempts", attempt).Msg("Recovery succeeded")
			c.finish(ctx, op, outcome)
			return outcome
		}

		lastErr = passErr
		logger.Warn().Err(passErr).Int("attempt", attempt).Msg("Recovery attempt failed")
		if errors.Is(passErr, ErrNotRecoverable) || ctx.Err() != nil {
			break
		}
		if attempt < plan.MaxAttempts {
			if sleepErr := sleepContext(ctx, c.backoff(plan.BackoffFactor, attempt)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	outcome.Message = fmt.Sprintf("%s failed (%s): %v", opName(op), failure.Category, err)
	outcome.Err = fmt.Errorf("%w: %s after %d attempt(s): %w", ErrRecoveryExhausted, failure.Category, outcome.Attempts, lastErr)
	logger.Error().Err(outcome.Err).Msg("Recovery exhausted")
	c.finish(ctx, op, outcome)
	return outcome
}

// runPass executes the plan's actions in order. Panics become failures.
func (c *Coordinator) runPass(ctx context.Context, names []string, req Request) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery action panic: %v", r)
		}
	}()

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no actions for %s", ErrNotRecoverable, req.Failure.Category)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		fn, ok := c.actions[name]
		c.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
		}
		out, err := fn(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", name, err)
		}
		if out != nil {
			output = out
		}
	}
	return output, nil
}

// recordAttempt applies the 0.9/0.1 success-rate EMA
func (c *Coordinator) recordAttempt(category Category, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.strategies[category]
	if !ok {
		return
	}
	s.Attempts++
	s.SuccessRate *= 0.9
	if success {
		s.SuccessRate += 0.1
	}
}

func (c *Coordinator) finish(ctx context.Context, op Operation, outcome Outcome) {
	observability.RecordRecoveryOutcome(string(outcome.Category), outcome.Recovered)

	event := hooks.EventRecoveryExhausted
	if outcome.Recovered {
		event = hooks.EventRecoveryRecovered
	}
	c.hooks.Dispatch(ctx, event, map[string]interface{}{
		"recovery_id": outcome.ID,
		"operation":   op.Name,
		"target":      op.Target,
		"category":    string(outcome.Category),
		"severity":    string(outcome.Severity),
		"attempts":    outcome.Attempts,
		"message":     outcome.Message,
	})
}

func (c *Coordinator) backoff(factor float64, attempt int) time.Duration {
	return time.Duration(float64(c.baseDelay) * math.Pow(factor, float64(attempt)))
}

func retryOperation(ctx context.Context, req Request) (interface{}, error) {
	if req.Operation.Retry == nil {
		return nil, fmt.Errorf("%w: %s cannot be retried", ErrNotRecoverable, opName(req.Operation))
	}
	return req.Operation.Retry(ctx)
}

// notify records the failure for operators. It never counts as a recovery.
func (c *Coordinator) notify(ctx context.Context, req Request) (interface{}, error) {
	c.logger.Warn().
		Str("recovery_id", req.ID).
		Str("operation", req.Operation.Name).
		Str("category", string(req.Failure.Category)).
		Msg(req.Failure.Message)
	return nil, fmt.Errorf("%w: %s", ErrNotRecoverable, req.Failure.Category)
}

func opName(op Operation) string {
	if op.Name == "" {
		return "operation"
	}
	return op.Name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
