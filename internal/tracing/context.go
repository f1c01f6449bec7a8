package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for a strategy or chain run ID
	RunIDKey ContextKey = "run_id"
	// StrategyIDKey is the context key for the strategy being executed
	StrategyIDKey ContextKey = "strategy_id"
	// StepIDKey is the context key for the step being dispatched
	StepIDKey ContextKey = "step_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RunID      string
	StrategyID string
	StepID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithStrategyID adds a strategy ID to the context
func WithStrategyID(ctx context.Context, strategyID string) context.Context {
	return context.WithValue(ctx, StrategyIDKey, strategyID)
}

// WithStepID adds a step ID to the context
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepIDKey, stepID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetStrategyID retrieves the strategy ID from the context
func GetStrategyID(ctx context.Context) string {
	if id, ok := ctx.Value(StrategyIDKey).(string); ok {
		return id
	}
	return ""
}

// GetStepID retrieves the step ID from the context
func GetStepID(ctx context.Context) string {
	if id, ok := ctx.Value(StepIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		StrategyID: GetStrategyID(ctx),
		StepID:     GetStepID(ctx),
	}
}

// NewRunContext creates a context for a strategy run. The trace ID is kept
// when present so nested runs share one trace.
func NewRunContext(ctx context.Context, strategyID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	if strategyID != "" {
		ctx = WithStrategyID(ctx, strategyID)
	}
	return ctx
}

// LoggerFromContext adds tracing fields from ctx to a zerolog logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID == "" && tc.RunID == "" && tc.StrategyID == "" && tc.StepID == "" {
		return logger
	}

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.StrategyID != "" {
		lc = lc.Str("strategy_id", tc.StrategyID)
	}
	if tc.StepID != "" {
		lc = lc.Str("step_id", tc.StepID)
	}
	return lc.Logger()
}
