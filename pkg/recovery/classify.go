package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// Category groups failures that share a remediation
type Category string

const (
	CategoryTimeout       Category = "timeout"
	CategoryToolExecution Category = "tool_execution"
	CategoryDependency    Category = "dependency"
	CategoryValidation    Category = "validation"
	CategoryStorage       Category = "storage"
	CategoryNotFound      Category = "not_found"
	CategoryCancelled     Category = "cancelled"
	CategoryUnknown       Category = "unknown"
)

// Categories lists every category in a stable order
func Categories() []Category {
	return []Category{
		CategoryTimeout, CategoryToolExecution, CategoryDependency, CategoryValidation,
		CategoryStorage, CategoryNotFound, CategoryCancelled, CategoryUnknown,
	}
}

// Severity ranks how disruptive a failure is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Failure is a classified error
type Failure struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Err      error    `json:"-"`
}

var defaultSeverity = map[Category]Severity{
	CategoryTimeout:       SeverityMedium,
	CategoryToolExecution: SeverityMedium,
	CategoryDependency:    SeverityHigh,
	CategoryValidation:    SeverityLow,
	CategoryStorage:       SeverityHigh,
	CategoryNotFound:      SeverityLow,
	CategoryCancelled:     SeverityLow,
	CategoryUnknown:       SeverityMedium,
}

// Classify maps err to a category, first by typed errors, then by message.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Category: CategoryUnknown, Severity: SeverityLow}
	}
	category := classifyTyped(err)
	if category == "" {
		category = classifyMessage(err.Error())
	}
	return Failure{
		Category: category,
		Severity: defaultSeverity[category],
		Message:  err.Error(),
		Err:      err,
	}
}

func classifyTyped(err error) Category {
	var (
		chainErr *toolexecutor.InvalidChainError
		execErr  *toolexecutor.ToolExecutionError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, toolexecutor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, toolexecutor.ErrCyclicDependency),
		errors.Is(err, toolexecutor.ErrUnknownDependency),
		errors.Is(err, toolexecutor.ErrIncompatibleDependency),
		errors.Is(err, toolexecutor.ErrToolInUse),
		errors.As(err, &chainErr):
		return CategoryDependency
	case errors.Is(err, toolexecutor.ErrInvalidParameters),
		errors.Is(err, toolexecutor.ErrAlreadyRegistered),
		errors.Is(err, strategy.ErrInvalidStrategy),
		errors.Is(err, strategy.ErrNoEntryPoints),
		errors.Is(err, strategy.ErrUnknownMode),
		errors.Is(err, strategy.ErrUnresolvedReference):
		return CategoryValidation
	case errors.Is(err, cache.ErrCacheIO):
		return CategoryStorage
	case errors.Is(err, toolexecutor.ErrToolNotFound),
		errors.Is(err, strategy.ErrStrategyNotFound),
		errors.Is(err, cache.ErrNotFound):
		return CategoryNotFound
	case errors.As(err, &execErr):
		return CategoryToolExecution
	}
	return ""
}

var messageRules = []struct {
	category Category
	needles  []string
}{
	{CategoryCancelled, []string{"cancelled", "canceled"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline"}},
	{CategoryNotFound, []string{"not found", "no such", "unknown tool", "unknown strategy"}},
	{CategoryDependency, []string{"dependency", "dependencies", "cycle", "cyclic"}},
	{CategoryValidation, []string{"invalid", "validation", "malformed", "required"}},
	{CategoryStorage, []string{"database", "disk", "i/o", "storage", "permission denied"}},
	{CategoryToolExecution, []string{"tool", "execution", "handler"}},
}

func classifyMessage(msg string) Category {
	msg = strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}
