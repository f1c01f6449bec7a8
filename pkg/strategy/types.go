package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harun/conductor/pkg/condition"
)

// Mode is a strategy execution mode
type Mode string

const (
	ModeSequential  Mode = "sequential"
	ModeParallel    Mode = "parallel"
	ModeConditional Mode = "conditional"
	ModeIterative   Mode = "iterative"
	ModeAdaptive    Mode = "adaptive"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeConditional, ModeIterative, ModeAdaptive:
		return true
	}
	return false
}

// Metadata keys recognised by the engine
const (
	MetaMaxIterations       = "max_iterations"
	MetaCompletionCondition = "completion_condition"
	MetaRequiredEntities    = "required_entities"
	MetaRequestType         = "request_type"
	MetaMaxSteps            = "max_steps"
)

const defaultMaxIterations = 5

var (
	ErrStrategyNotFound    = errors.New("strategy not found")
	ErrNoEntryPoints       = errors.New("strategy has no entry points")
	ErrInvalidStrategy     = errors.New("invalid strategy")
	ErrUnknownMode         = errors.New("unknown execution mode")
	ErrUnresolvedReference = errors.New("unresolved context reference")
)

// Duration is a time.Duration written as a string ("5s") in documents
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5s" or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Step is a single tool invocation inside a strategy
type Step struct {
	ID            string                `json:"id" yaml:"id"`
	Tool          string                `json:"tool" yaml:"tool"`
	Params        map[string]ParamValue `json:"params,omitempty" yaml:"params,omitempty"`
	Condition     string                `json:"condition,omitempty" yaml:"condition,omitempty"`
	NextSteps     []string              `json:"next_steps,omitempty" yaml:"next_steps,omitempty"`
	FallbackSteps []string              `json:"fallback_steps,omitempty" yaml:"fallback_steps,omitempty"`
	Timeout       Duration              `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount    int                   `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	MaxRetries    int                   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Strategy is a named workflow graph of steps
type Strategy struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        Mode                   `json:"mode" yaml:"mode"`
	Steps       map[string]*Step       `json:"steps" yaml:"steps"`
	EntryPoints []string               `json:"entry_points" yaml:"entry_points"`
	SuccessRate float64                `json:"success_rate" yaml:"success_rate"`
	UsageCount  int                    `json:"usage_count" yaml:"usage_count"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks the step graph. Step ids missing from documents are
// filled in place from their map keys; Register validates a copy.
func (s *Strategy) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidStrategy)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, s.Mode)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidStrategy, s.ID)
	}
	if len(s.EntryPoints) == 0 {
		return fmt.Errorf("%w: %s", ErrNoEntryPoints, s.ID)
	}
	if s.SuccessRate < 0 || s.SuccessRate > 1 {
		return fmt.Errorf("%w: success_rate must be within [0,1]", ErrInvalidStrategy)
	}

	for id, step := range s.Steps {
		if step == nil {
			return fmt.Errorf("%w: step %s is empty", ErrInvalidStrategy, id)
		}
		if step.ID == "" {
			step.ID = id
		}
		if step.ID != id {
			return fmt.Errorf("%w: step key %s does not match id %s", ErrInvalidStrategy, id, step.ID)
		}
		if step.Tool == "" {
			return fmt.Errorf("%w: step %s has no tool", ErrInvalidStrategy, id)
		}
		for _, next := range step.NextSteps {
			if _, ok := s.Steps[next]; !ok {
				return fmt.Errorf("%w: step %s names unknown next step %s", ErrInvalidStrategy, id, next)
			}
		}
		for _, fb := range step.FallbackSteps {
			if _, ok := s.Steps[fb]; !ok {
				return fmt.Errorf("%w: step %s names unknown fallback step %s", ErrInvalidStrategy, id, fb)
			}
		}
		if step.Condition != "" {
			if _, err := condition.Compile(step.Condition); err != nil {
				return fmt.Errorf("%w: step %s: %v", ErrInvalidStrategy, id, err)
			}
		}
	}

	for _, ep := range s.EntryPoints {
		if _, ok := s.Steps[ep]; !ok {
			return fmt.Errorf("%w: unknown entry point %s", ErrInvalidStrategy, ep)
		}
	}

	if expr := s.CompletionCondition(); expr != "" {
		if _, err := condition.Compile(expr); err != nil {
			return fmt.Errorf("%w: completion condition: %v", ErrInvalidStrategy, err)
		}
	}

	return nil
}

// Tools returns the distinct tools the strategy's steps use
func (s *Strategy) Tools() []string {
	seen := make(map[string]bool, len(s.Steps))
	var tools []string
	for _, step := range s.Steps {
		if !seen[step.Tool] {
			seen[step.Tool] = true
			tools = append(tools, step.Tool)
		}
	}
	return tools
}

// MaxIterations returns the iterative round limit
func (s *Strategy) MaxIterations() int {
	if n, ok := metaInt(s.Metadata, MetaMaxIterations); ok && n > 0 {
		return n
	}
	return defaultMaxIterations
}

// MaxSteps returns the per-run step budget override, or 0
func (s *Strategy) MaxSteps() int {
	if n, ok := metaInt(s.Metadata, MetaMaxSteps); ok && n > 0 {
		return n
	}
	return 0
}

// CompletionCondition returns the iterative completion expression
func (s *Strategy) CompletionCondition() string {
	v, _ := s.Metadata[MetaCompletionCondition].(string)
	return v
}

// RequestType returns the request type the strategy is meant for
func (s *Strategy) RequestType() string {
	v, _ := s.Metadata[MetaRequestType].(string)
	return v
}

// RequiredEntities returns the context entities the strategy expects
func (s *Strategy) RequiredEntities() []string {
	switch v := s.Metadata[MetaRequiredEntities].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep copy of the strategy's structure
func (s *Strategy) Clone() *Strategy {
	out := *s
	out.Steps = make(map[string]*Step, len(s.Steps))
	for id, step := range s.Steps {
		if step == nil {
			out.Steps[id] = nil
			continue
		}
		cp := *step
		cp.Params = make(map[string]ParamValue, len(step.Params))
		for k, v := range step.Params {
			cp.Params[k] = v
		}
		cp.NextSteps = append([]string(nil), step.NextSteps...)
		cp.FallbackSteps = append([]string(nil), step.FallbackSteps...)
		out.Steps[id] = &cp
	}
	out.EntryPoints = append([]string(nil), s.EntryPoints...)
	out.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func metaInt(meta map[string]interface{}, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
