package strategy

import (
	"math"

	"github.com/harun/conductor/internal/observability"
)

// Selection weights
const (
	weightSuccessRate  = 0.4
	weightContextMatch = 0.4
	weightUsage        = 0.2
	usageSaturation    = 100.0
)

// Select returns the best-scoring strategy whose tools are all available.
// A nil available set places no restriction. Ties go to the strategy
// registered first. The boolean is false when nothing qualifies.
func (e *Engine) Select(runCtx map[string]interface{}, available map[string]bool) (*Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *Strategy
	bestScore := math.Inf(-1)

	for _, id := range e.order {
		s := e.strategies[id]
		if !toolsAvailable(s, available) {
			continue
		}
		score := Score(s, runCtx)
		if score > bestScore {
			best, bestScore = s, score
		}
	}

	if best == nil {
		observability.RecordStrategySelection("")
		e.logger.Debug().Msg("No strategy available for context")
		return nil, false
	}

	observability.RecordStrategySelection(best.ID)
	e.logger.Debug().
		Str("strategy", best.ID).
		Float64("score", bestScore).
		Msg("Strategy selected")

	return best.Clone(), true
}

// Score rates a strategy for a context:
// 0.4*success_rate + 0.4*context_match + 0.2*min(usage/100, 1)
func Score(s *Strategy, runCtx map[string]interface{}) float64 {
	usage := math.Min(float64(s.UsageCount)/usageSaturation, 1.0)
	return weightSuccessRate*s.SuccessRate + weightContextMatch*ContextMatch(s, runCtx) + weightUsage*usage
}

// ContextMatch averages the request-type match (0 or 1) and the fraction
// of required entities present in the context.
func ContextMatch(s *Strategy, runCtx map[string]interface{}) float64 {
	typeMatch := 0.0
	requested, _ := runCtx[MetaRequestType].(string)
	if s.RequestType() == requested {
		typeMatch = 1.0
	}

	entityMatch := 1.0
	if required := s.RequiredEntities(); len(required) > 0 {
		present := 0
		for _, name := range required {
			if entityPresent(runCtx, name) {
				present++
			}
		}
		entityMatch = float64(present) / float64(len(required))
	}

	return (typeMatch + entityMatch) / 2
}

// entityPresent looks for an entity as a top-level context key or inside
// the "entities" map or list.
func entityPresent(runCtx map[string]interface{}, name string) bool {
	if v, ok := runCtx[name]; ok && v != nil {
		return true
	}
	switch entities := runCtx["entities"].(type) {
	case map[string]interface{}:
		v, ok := entities[name]
		return ok && v != nil
	case []interface{}:
		for _, e := range entities {
			if e == name {
				return true
			}
		}
	case []string:
		for _, e := range entities {
			if e == name {
				return true
			}
		}
	}
	return false
}

func toolsAvailable(s *Strategy, available map[string]bool) bool {
	if available == nil {
		return true
	}
	for _, tool := range s.Tools() {
		if !available[tool] {
			return false
		}
	}
	return true
}
