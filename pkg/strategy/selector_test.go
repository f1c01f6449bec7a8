package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredStrategy(id string, rate float64, requestType string, entities ...string) *Strategy {
	return &Strategy{
		ID:          id,
		Mode:        ModeSequential,
		Steps:       map[string]*Step{"s": {Tool: "echo"}},
		EntryPoints: []string{"s"},
		SuccessRate: rate,
		Metadata: map[string]interface{}{
			MetaRequestType:      requestType,
			MetaRequiredEntities: entities,
		},
	}
}

func TestSelectUsesWeightedScore(t *testing.T) {
	engine := newTestEngine(t, newTestExecutor(t), nil)

	reliable := scoredStrategy("reliable", 0.9, "email", "e1", "e2", "f1", "f2", "f3")
	relevant := scoredStrategy("relevant", 0.5, "note", "e1", "e2", "e3", "e4", "f1")
	require.NoError(t, engine.Register(reliable))
	require.NoError(t, engine.Register(relevant))

	runCtx := map[string]interface{}{
		MetaRequestType: "note",
		"entities":      map[string]interface{}{"e1": "a", "e2": "b", "e3": "c", "e4": "d"},
	}

	assert.InDelta(t, 0.2, ContextMatch(reliable, runCtx), 1e-9)
	assert.InDelta(t, 0.9, ContextMatch(relevant, runCtx), 1e-9)
	assert.InDelta(t, 0.44, Score(reliable, runCtx), 1e-9)
	assert.InDelta(t, 0.56, Score(relevant, runCtx), 1e-9)

	selected, ok := engine.Select(runCtx, map[string]bool{"echo": true})
	require.True(t, ok)
	assert.Equal(t, "relevant", selected.ID)
}

func TestSelectUsageTerm(t *testing.T) {
	s := scoredStrategy("used", 0, "")
	s.UsageCount = 50
	assert.InDelta(t, 0.4*1.0+0.2*0.5, Score(s, nil), 1e-9)

	s.UsageCount = 500
	assert.InDelta(t, 0.4*1.0+0.2*1.0, Score(s, nil), 1e-9)
}

func TestSelectTiesAndAvailability(t *testing.T) {
	engine := newTestEngine(t, newTestExecutor(t), nil)

	require.NoError(t, engine.Register(scoredStrategy("first", 0.5, "x")))
	require.NoError(t, engine.Register(scoredStrategy("second", 0.5, "x")))

	selected, ok := engine.Select(map[string]interface{}{}, nil)
	require.True(t, ok)
	assert.Equal(t, "first", selected.ID)

	selected, ok = engine.Select(map[string]interface{}{}, map[string]bool{"other": true})
	assert.False(t, ok)
	assert.Nil(t, selected)
}

func TestSelectEmpty(t *testing.T) {
	engine := newTestEngine(t, newTestExecutor(t), nil)

	selected, ok := engine.Select(nil, nil)
	assert.False(t, ok)
	assert.Nil(t, selected)
}
