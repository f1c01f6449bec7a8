package toolexecutor

import (
	"context"
	"time"
)

// Reserved parameter keys injected by the executor.
const (
	ParamDependencies = "dependencies"
	ParamPrevious     = "previous"
	ParamChain        = "chain"
)

// Retries returns a MaxRetries value for a descriptor. A nil MaxRetries
// inherits the registry default; Retries(0) disables retries.
func Retries(n int) *int {
	return &n
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"`
	Description string      `json:"description" yaml:"description"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// ToolDescriptor defines a tool's metadata, dependencies and handler
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Category     string          `json:"category,omitempty"`
	Version      string          `json:"version,omitempty"`
	Description  string          `json:"description"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
	MaxRetries   *int            `json:"max_retries,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Parameters   []ToolParameter `json:"parameters,omitempty"`

	// DependencyConstraints maps a dependency name to a semver constraint
	// (e.g. ">= 1.2, < 2") its registered version must satisfy.
	DependencyConstraints map[string]string `json:"dependency_constraints,omitempty"`

	Handler ToolHandler `json:"-"`
}

// ToolStats holds rolling counters for a tool
type ToolStats struct {
	TotalCalls       int64            `json:"total_calls"`
	SuccessfulCalls  int64            `json:"successful_calls"`
	FailedCalls      int64            `json:"failed_calls"`
	AvgExecutionTime time.Duration    `json:"avg_execution_time"`
	ErrorTypes       map[string]int64 `json:"error_types"`
	LastExecuted     time.Time        `json:"last_executed"`
}

func (s *ToolStats) clone() ToolStats {
	out := *s
	out.ErrorTypes = make(map[string]int64, len(s.ErrorTypes))
	for k, v := range s.ErrorTypes {
		out.ErrorTypes[k] = v
	}
	return out
}

// ExecutionResult represents the result of a tool execution
type ExecutionResult struct {
	Tool     string                 `json:"tool"`
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Attempts int                    `json:"attempts"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChainStep is one position in an explicit tool chain
type ChainStep struct {
	Tool        string                 `json:"tool"`
	Params      map[string]interface{} `json:"params,omitempty"`
	PassOutputs bool                   `json:"pass_outputs,omitempty"`
}

// Config holds executor limits
type Config struct {
	MaxConcurrentTools  int
	DefaultTimeout      time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	RetryBackoffFactor  float64
	MaxChainLength      int
	DependencyInjection bool

	// Manifests, when set, receives a document for every registered tool.
	Manifests *ManifestStore
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTools:  10,
		DefaultTimeout:      30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		RetryBackoffFactor:  2.0,
		MaxChainLength:      10,
		DependencyInjection: true,
	}
}
