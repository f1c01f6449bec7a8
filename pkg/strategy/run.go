package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/conductor/internal/observability"
	"github.com/harun/conductor/internal/tracing"
)

const tracerName = "github.com/harun/conductor/pkg/strategy"

// Step outcomes reported to metrics
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetried = "retried"
	OutcomeSkipped = "skipped"
)

// RunResult reports one strategy run. Results maps step id to the step's
// output, or to {"error": message} when the step failed. StepsExecuted counts
// every dispatch against the budget, adaptive retries included; Successful
// and Failed count final step outcomes only.
type RunResult struct {
	RunID           string                   `json:"run_id"`
	StrategyID      string                   `json:"strategy_id"`
	Mode            Mode                     `json:"mode"`
	Results         map[string]interface{}   `json:"results"`
	Rounds          []map[string]interface{} `json:"rounds,omitempty"`
	Skipped         []string                 `json:"skipped,omitempty"`
	Iterations      int                      `json:"iterations,omitempty"`
	StepsExecuted   int                      `json:"steps_executed"`
	Successful      int                      `json:"successful"`
	Failed          int                      `json:"failed"`
	Retried         int                      `json:"retried,omitempty"`
	BudgetExhausted bool                     `json:"budget_exhausted,omitempty"`
	Duration        time.Duration            `json:"duration"`
}

// StepError returns the recorded error message for a step, if any
func (r *RunResult) StepError(id string) (string, bool) {
	m, ok := r.Results[id].(map[string]interface{})
	if !ok {
		return "", false
	}
	msg, ok := m["error"].(string)
	return msg, ok
}

type runState struct {
	strategy *Strategy
	context  map[string]interface{}
	budget   int
	result   *RunResult
	mu       sync.Mutex
}

func newRunState(s *Strategy, runCtx map[string]interface{}, budget int, runID string) *runState {
	if runCtx == nil {
		runCtx = map[string]interface{}{}
	}
	return &runState{
		strategy: s,
		context:  runCtx,
		budget:   budget,
		result: &RunResult{
			RunID:      runID,
			StrategyID: s.ID,
			Mode:       s.Mode,
			Results:    make(map[string]interface{}),
		},
	}
}

// take reserves one step from the budget
func (r *runState) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result.StepsExecuted >= r.budget {
		r.result.BudgetExhausted = true
		return false
	}
	r.result.StepsExecuted++
	return true
}

func (r *runState) record(id string, output interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.result.Results[id] = map[string]interface{}{"error": err.Error()}
		r.result.Failed++
		return
	}
	r.result.Results[id] = output
	r.result.Successful++
}

// retry records a failed attempt that will be dispatched again
func (r *runState) retry(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Results[id] = map[string]interface{}{"error": err.Error()}
	r.result.Retried++
}

func (r *runState) skip(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Skipped = append(r.result.Skipped, id)
}

func (r *runState) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.BudgetExhausted
}

// env is the merged context visible to bindings and conditions
func (r *runState) env() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make(map[string]interface{}, len(r.result.Results))
	for k, v := range r.result.Results {
		results[k] = v
	}

	env := make(map[string]interface{}, len(r.context)+2)
	for k, v := range r.context {
		env[k] = v
	}
	env["context"] = r.context
	env["results"] = results
	return env
}

// Execute runs a registered strategy against a context. Step failures are
// recorded in the result; only structural problems and cancellation are
// returned as errors.
func (e *Engine) Execute(ctx context.Context, id string, runCtx map[string]interface{}) (result *RunResult, err error) {
	s, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if len(s.EntryPoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryPoints, id)
	}
	if !s.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, s.Mode)
	}

	ctx = tracing.NewRunContext(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracerName, "strategy.Execute",
		attribute.String("strategy", id),
		attribute.String("mode", string(s.Mode)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	budget := e.cfg.MaxStepsPerRun
	if n := s.MaxSteps(); n > 0 {
		budget = n
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Debug().Str("mode", string(s.Mode)).Int("budget", budget).Msg("Strategy run started")

	start := time.Now()
	run := newRunState(s, runCtx, budget, tracing.GetRunID(ctx))

	switch s.Mode {
	case ModeSequential, ModeConditional, ModeAdaptive:
		e.runQueue(ctx, run)
	case ModeParallel:
		e.runParallel(ctx, run)
	case ModeIterative:
		e.runIterative(ctx, run)
	}

	result = run.result
	result.Duration = time.Since(start)
	observability.RecordStrategyRun(id, string(s.Mode), result.Duration, result.Failed == 0)

	if ctx.Err() != nil {
		logger.Warn().Err(ctx.Err()).Int("steps", result.StepsExecuted).Msg("Strategy run cancelled")
		return result, ctx.Err()
	}

	if result.BudgetExhausted {
		logger.Warn().Int("budget", budget).Msg("Strategy run stopped: step budget exhausted")
	}

	e.recordRun(id, result.Successful, result.Successful+result.Failed)

	logger.Info().
		Int("steps", result.StepsExecuted).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("retried", result.Retried).
		Dur("duration", result.Duration).
		Msg("Strategy run completed")

	return result, nil
}

// dispatch binds a step's parameters and runs its tool
func (e *Engine) dispatch(ctx context.Context, run *runState, step *Step) (interface{}, error) {
	params, err := bindParams(step.Params, run.env())
	if err != nil {
		return nil, err
	}

	stepCtx := tracing.WithStepID(ctx, step.ID)
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, time.Duration(step.Timeout))
		defer cancel()
	}

	res, err := e.tools.Execute(stepCtx, step.Tool, params)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (e *Engine) finish(run *runState, id string, output interface{}, err error) {
	run.record(id, output, err)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		e.logger.Debug().Err(err).Str("strategy", run.strategy.ID).Str("step", id).Msg("Step failed")
	}
	observability.RecordStepOutcome(run.strategy.ID, outcome)
}

// runQueue drives sequential, conditional and adaptive traversal
func (e *Engine) runQueue(ctx context.Context, run *runState) {
	s := run.strategy
	retries := make(map[string]int)
	queue := append([]string(nil), s.EntryPoints...)

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}

		id := queue[0]
		queue = queue[1:]
		step := s.Steps[id]

		if s.Mode == ModeConditional && step.Condition != "" {
			ok, err := e.evaluator.Evaluate(step.Condition, run.env())
			if err != nil {
				if !run.take() {
					return
				}
				e.finish(run, id, nil, fmt.Errorf("condition: %w", err))
				queue = append(queue, step.FallbackSteps...)
				continue
			}
			if !ok {
				run.skip(id)
				observability.RecordStepOutcome(s.ID, OutcomeSkipped)
				continue
			}
		}

		if !run.take() {
			return
		}

		output, err := e.dispatch(ctx, run, step)
		if err == nil {
			e.finish(run, id, output, nil)
			queue = append(queue, step.NextSteps...)
			continue
		}

		if s.Mode == ModeAdaptive && ctx.Err() == nil && step.RetryCount+retries[id] < step.MaxRetries {
			retries[id]++
			run.retry(id, err)
			observability.RecordStepOutcome(s.ID, OutcomeRetried)

			if sleepContext(ctx, e.adaptiveBackoff(retries[id])) != nil {
				return
			}
			queue = append(queue, id)
			continue
		}

		e.finish(run, id, nil, err)
		queue = append(queue, step.FallbackSteps...)
	}
}

// runParallel runs entry points in groups of at most MaxConcurrentSteps
func (e *Engine) runParallel(ctx context.Context, run *runState) {
	entries := run.strategy.EntryPoints
	size := e.cfg.MaxConcurrentSteps

	for start := 0; start < len(entries); start += size {
		if ctx.Err() != nil {
			return
		}
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}

		var g errgroup.Group
		for _, id := range entries[start:end] {
			if !run.take() {
				break
			}
			step := run.strategy.Steps[id]
			g.Go(func() error {
				output, err := e.dispatch(ctx, run, step)
				e.finish(run, id, output, err)
				return nil
			})
		}
		_ = g.Wait()

		if run.exhausted() {
			return
		}
	}
}

// runIterative re-runs all entry points each round until the iteration
// limit or the completion condition holds over that round's results.
func (e *Engine) runIterative(ctx context.Context, run *runState) {
	s := run.strategy
	maxIterations := s.MaxIterations()
	completion := s.CompletionCondition()

	for i := 1; i <= maxIterations; i++ {
		if ctx.Err() != nil {
			return
		}

		round := make(map[string]interface{}, len(s.EntryPoints))
		for _, id := range s.EntryPoints {
			if !run.take() {
				return
			}
			output, err := e.dispatch(ctx, run, s.Steps[id])
			e.finish(run, id, output, err)

			run.mu.Lock()
			round[id] = run.result.Results[id]
			run.mu.Unlock()
		}

		run.mu.Lock()
		run.result.Rounds = append(run.result.Rounds, round)
		run.result.Iterations = i
		run.mu.Unlock()

		if completion == "" {
			continue
		}

		env := run.env()
		env["results"] = round
		env["iteration"] = i
		done, err := e.evaluator.Evaluate(completion, env)
		if err != nil {
			e.logger.Warn().Err(err).Str("strategy", s.ID).Msg("Completion condition failed, stopping iteration")
			return
		}
		if done {
			return
		}
	}
}

func (e *Engine) adaptiveBackoff(retry int) time.Duration {
	return time.Duration(float64(e.cfg.RetryDelay) * math.Pow(e.cfg.BackoffFactor, float64(retry-1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
