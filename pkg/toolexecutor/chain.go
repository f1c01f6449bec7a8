package toolexecutor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/conductor/internal/tracing"
)

// ValidateChain checks that every step's dependencies occur earlier in the chain
func (te *ToolExecutor) ValidateChain(steps []ChainStep) error {
	if len(steps) > te.cfg.MaxChainLength {
		return &InvalidChainError{
			Reason: fmt.Sprintf("chain has %d steps, limit is %d", len(steps), te.cfg.MaxChainLength),
		}
	}

	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		tool, err := te.lookup(step.Tool)
		if err != nil {
			return fmt.Errorf("chain step %d: %w", i, err)
		}

		var missing []string
		for _, dep := range tool.desc.Dependencies {
			if !seen[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return &InvalidChainError{Position: i, Tool: step.Tool, Missing: missing}
		}
		seen[step.Tool] = true
	}
	return nil
}

// ExecuteChain runs the steps strictly in order without resolving
// dependencies again. Nothing runs if the chain is invalid. Execution stops
// at the first failing step; results of completed steps are returned with
// the error.
func (te *ToolExecutor) ExecuteChain(ctx context.Context, steps []ChainStep) (results []*ExecutionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "toolexecutor.ExecuteChain", attribute.Int("steps", len(steps)))
	defer func() { tracing.EndSpan(span, err) }()

	if err := te.ValidateChain(steps); err != nil {
		return nil, err
	}

	results = make([]*ExecutionResult, 0, len(steps))
	outputs := make(map[string]interface{}, len(steps))
	chainOutputs := make([]interface{}, 0, len(steps))

	for i, step := range steps {
		tool, err := te.lookup(step.Tool)
		if err != nil {
			return results, err
		}

		params := copyParams(step.Params)
		if te.cfg.DependencyInjection {
			injectDependencies(params, tool.desc, outputs)
		}
		if step.PassOutputs && i > 0 {
			params[ParamPrevious] = chainOutputs[i-1]
			params[ParamChain] = append([]interface{}(nil), chainOutputs...)
		}

		res, err := te.run(ctx, tool, params)
		if err != nil {
			return results, fmt.Errorf("chain step %d (%s): %w", i, step.Tool, err)
		}

		results = append(results, res)
		outputs[step.Tool] = res.Output
		chainOutputs = append(chainOutputs, res.Output)
	}

	log.Debug().Int("steps", len(steps)).Msg("Tool chain completed")
	return results, nil
}
