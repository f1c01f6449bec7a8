package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when a tool name is taken
	ErrAlreadyRegistered = errors.New("tool already registered")
	// ErrUnknownDependency is returned when a dependency is not registered
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrIncompatibleDependency is returned when a dependency version violates a constraint
	ErrIncompatibleDependency = errors.New("incompatible dependency")
	// ErrCyclicDependency is returned when the dependency relation has a cycle
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrToolNotFound is returned for unknown tool names
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolInUse is returned when unregistering a tool others depend on
	ErrToolInUse = errors.New("tool is a dependency of other tools")
	// ErrInvalidParameters is returned when parameters fail schema validation
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrTimeout marks an attempt that exceeded its deadline
	ErrTimeout = errors.New("tool execution timeout")

	errPanic = errors.New("tool handler panicked")
)

// CyclicDependencyError lists the tools left unsorted by a cycle
type CyclicDependencyError struct {
	Tools []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among tools: %s", strings.Join(e.Tools, ", "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

// InvalidChainError reports a chain step whose dependencies are not earlier in the chain
type InvalidChainError struct {
	Position int
	Tool     string
	Missing  []string
	Reason   string
}

func (e *InvalidChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid chain: %s", e.Reason)
	}
	return fmt.Sprintf("invalid chain: step %d (%s) requires %s earlier in the chain",
		e.Position, e.Tool, strings.Join(e.Missing, ", "))
}

// ToolExecutionError is returned once a tool exhausts its retries
type ToolExecutionError struct {
	Tool     string
	Attempts int
	Retries  int
	LastErr  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed after %d attempts (%d retries): %v", e.Tool, e.Attempts, e.Retries, e.LastErr)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.LastErr
}

// errorType names an error for the stats histogram
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameters):
		return "validation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, errPanic):
		return "panic"
	default:
		return fmt.Sprintf("%T", err)
	}
}
