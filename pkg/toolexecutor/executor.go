package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/conductor/internal/observability"
	"github.com/harun/conductor/internal/tracing"
)

const tracerName = "github.com/harun/conductor/pkg/toolexecutor"

// Execute runs name after its transitive dependencies. With dependency
// injection enabled the dependency outputs are passed to the target under
// the "dependencies" key. Dependencies receive the subset of params they
// declare.
func (te *ToolExecutor) Execute(ctx context.Context, name string, params map[string]interface{}) (result *ExecutionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "toolexecutor.Execute", attribute.String("tool", name))
	defer func() { tracing.EndSpan(span, err) }()

	order, err := te.ResolveOrder(name)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]interface{}, len(order)-1)
	for _, depName := range order[:len(order)-1] {
		dep, err := te.lookup(depName)
		if err != nil {
			return nil, err
		}

		depParams := declaredParams(dep.desc, params)
		if te.cfg.DependencyInjection {
			injectDependencies(depParams, dep.desc, outputs)
		}

		res, err := te.run(ctx, dep, depParams)
		if err != nil {
			return nil, fmt.Errorf("dependency %s of %s: %w", depName, name, err)
		}
		outputs[depName] = res.Output
	}

	target, err := te.lookup(name)
	if err != nil {
		return nil, err
	}

	callParams := copyParams(params)
	if te.cfg.DependencyInjection && len(outputs) > 0 {
		callParams[ParamDependencies] = outputs
	}

	return te.run(ctx, target, callParams)
}

// run executes a single tool with timeout and retry
func (te *ToolExecutor) run(ctx context.Context, tool *registeredTool, params map[string]interface{}) (*ExecutionResult, error) {
	name := tool.desc.Name
	maxRetries := te.retriesFor(tool.desc)
	timeout := te.timeoutFor(tool.desc)
	start := time.Now()

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		attempts = attempt

		output, duration, err := te.attempt(ctx, tool, copyParams(params), timeout)
		te.recordAttempt(tool, duration, err)

		if err == nil {
			log.Debug().
				Str("tool", name).
				Int("attempt", attempt).
				Dur("duration", duration).
				Msg("Tool execution completed")

			return &ExecutionResult{
				Tool:     name,
				Success:  true,
				Output:   output,
				Attempts: attempts,
				Duration: time.Since(start),
				Metadata: map[string]interface{}{
					"duration": duration.Milliseconds(),
				},
			}, nil
		}

		lastErr = err
		log.Warn().
			Str("tool", name).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Err(err).
			Msg("Tool execution attempt failed")

		// Parameters and cancellation do not change between attempts.
		if errors.Is(err, ErrInvalidParameters) || ctx.Err() != nil {
			break
		}

		if attempt <= maxRetries {
			observability.RecordToolRetry(name)
			if err := sleepContext(ctx, te.backoff(attempt)); err != nil {
				lastErr = fmt.Errorf("%w (last error: %v)", err, lastErr)
				break
			}
		}
	}

	log.Error().
		Str("tool", name).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Tool execution failed")

	return nil, &ToolExecutionError{
		Tool:     name,
		Attempts: attempts,
		Retries:  attempts - 1,
		LastErr:  lastErr,
	}
}

// attempt performs one handler invocation while holding a semaphore permit
func (te *ToolExecutor) attempt(ctx context.Context, tool *registeredTool, params map[string]interface{}, timeout time.Duration) (interface{}, time.Duration, error) {
	if err := validateParameters(tool.schema, params); err != nil {
		return nil, 0, err
	}

	if err := te.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer te.sem.Release(1)

	observability.AddToolsInFlight(1)
	defer observability.AddToolsInFlight(-1)

	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errPanic, r)}
			}
		}()
		output, err := tool.desc.Handler(timeoutCtx, params)
		done <- outcome{output: output, err: err}
	}()

	var output interface{}
	var err error
	select {
	case o := <-done:
		output, err = o.output, o.err
	case <-timeoutCtx.Done():
		err = timeoutCtx.Err()
	}

	if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return output, time.Since(start), err
}

// recordAttempt updates stats for one attempt
func (te *ToolExecutor) recordAttempt(tool *registeredTool, duration time.Duration, err error) {
	te.mu.Lock()
	stats := tool.stats
	stats.TotalCalls++
	if err == nil {
		stats.SuccessfulCalls++
	} else {
		stats.FailedCalls++
		stats.ErrorTypes[errorType(err)]++
	}
	stats.AvgExecutionTime += (duration - stats.AvgExecutionTime) / time.Duration(stats.TotalCalls)
	stats.LastExecuted = time.Now()
	te.mu.Unlock()

	observability.RecordToolExecution(tool.desc.Name, duration, err == nil)
}

func (te *ToolExecutor) retriesFor(desc ToolDescriptor) int {
	switch {
	case desc.MaxRetries == nil:
		return te.cfg.MaxRetries
	case *desc.MaxRetries < 0:
		return 0
	default:
		return *desc.MaxRetries
	}
}

func (te *ToolExecutor) timeoutFor(desc ToolDescriptor) time.Duration {
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return te.cfg.DefaultTimeout
}

// backoff returns retry_delay * factor^(attempt-1)
func (te *ToolExecutor) backoff(attempt int) time.Duration {
	return time.Duration(float64(te.cfg.RetryDelay) * math.Pow(te.cfg.RetryBackoffFactor, float64(attempt-1)))
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

func copyParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	return out
}

// declaredParams returns the subset of params the tool declares
func declaredParams(desc ToolDescriptor, params map[string]interface{}) map[string]interface{} {
	if len(desc.Parameters) == 0 {
		return make(map[string]interface{})
	}
	out := make(map[string]interface{}, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if v, ok := params[p.Name]; ok {
			out[p.Name] = v
		}
	}
	return out
}

// injectDependencies adds the outputs of desc's direct dependencies
func injectDependencies(params map[string]interface{}, desc ToolDescriptor, outputs map[string]interface{}) {
	if len(desc.Dependencies) == 0 {
		return
	}
	deps := make(map[string]interface{}, len(desc.Dependencies))
	for _, d := range desc.Dependencies {
		if out, ok := outputs[d]; ok {
			deps[d] = out
		}
	}
	params[ParamDependencies] = deps
}
