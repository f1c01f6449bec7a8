package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/conductor/internal/config"
	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/hooks"
	"github.com/harun/conductor/pkg/recovery"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tools.RetryDelay = time.Millisecond
	cfg.Strategy.RetryDelay = time.Millisecond
	cfg.RecoveryBaseDelay = time.Millisecond
	cfg.Maintenance.Schedule = ""
	return cfg
}

func newTestService(t *testing.T, cfg Config, deps Dependencies) *Service {
	t.Helper()
	deps.Logger = zerolog.Nop()
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc
}

func fallbackStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		ID:   "triage",
		Mode: strategy.ModeSequential,
		Steps: map[string]*strategy.Step{
			"A": {Tool: "fail", NextSteps: []string{"B"}, FallbackSteps: []string{"C"}},
			"B": {Tool: "echo", Params: map[string]strategy.ParamValue{"step": strategy.Literal("B")}},
			"C": {Tool: "echo", Params: map[string]strategy.ParamValue{"subject": strategy.Ref("subject")}},
		},
		EntryPoints: []string{"A"},
		SuccessRate: 0.5,
	}
}

func TestExecuteTool(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})

	res := svc.ExecuteTool(context.Background(), "echo", map[string]interface{}{"x": 1})
	assert.True(t, res.Success)
	assert.Equal(t, map[string]interface{}{"x": 1}, res.Output)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Category)
}

func TestExecuteToolUnknown(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})

	res := svc.ExecuteTool(context.Background(), "ghost", nil)
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryNotFound), res.Category)
	assert.NotEmpty(t, res.Message)
}

func TestExecuteToolExhaustsRecovery(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})

	res := svc.ExecuteTool(context.Background(), "fail", map[string]interface{}{"message": "broken"})
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryToolExecution), res.Category)
	assert.Contains(t, res.Message, "broken")

	// The initial run plus one call per recovery attempt.
	stats, err := svc.Tools().Stats("fail")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(4), stats.FailedCalls)

	plan, ok := svc.Recovery().Strategy(recovery.CategoryToolExecution)
	require.True(t, ok)
	assert.Equal(t, int64(3), plan.Attempts)
}

func TestExecuteToolKeepsFailureStats(t *testing.T) {
	cfg := testConfig()
	cfg.Tools.MaxRetries = 1
	var calls int32
	bad := toolexecutor.ToolDescriptor{
		Name: "bad",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("still broken")
		},
	}
	svc := newTestService(t, cfg, Dependencies{Tools: []toolexecutor.ToolDescriptor{bad}})

	res := svc.ExecuteTool(context.Background(), "bad", nil)
	assert.False(t, res.Success)

	// Two attempts for the initial run and for each of the three recovery retries.
	assert.Equal(t, int32(8), atomic.LoadInt32(&calls))
	stats, err := svc.Tools().Stats("bad")
	require.NoError(t, err)
	assert.Equal(t, int64(atomic.LoadInt32(&calls)), stats.FailedCalls)
	assert.Equal(t, stats.FailedCalls, stats.TotalCalls)
	var histogram int64
	for _, n := range stats.ErrorTypes {
		histogram += n
	}
	assert.Equal(t, int64(8), histogram)
}

func TestExecuteToolResetStatsOptIn(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})
	require.NoError(t, svc.Recovery().RegisterStrategy(recovery.Strategy{
		Category:      recovery.CategoryToolExecution,
		MaxAttempts:   1,
		BackoffFactor: 1,
		Actions:       []string{recovery.ActionResetToolStats, recovery.ActionRetryOperation},
	}))

	res := svc.ExecuteTool(context.Background(), "fail", nil)
	assert.False(t, res.Success)

	stats, err := svc.Tools().Stats("fail")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestExecuteToolRecovered(t *testing.T) {
	var calls int32
	flaky := toolexecutor.ToolDescriptor{
		Name:       "flaky",
		MaxRetries: toolexecutor.Retries(0),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	}
	svc := newTestService(t, testConfig(), Dependencies{Tools: []toolexecutor.ToolDescriptor{flaky}})

	res := svc.ExecuteTool(context.Background(), "flaky", nil)
	assert.True(t, res.Success)
	assert.True(t, res.Recovered)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, string(recovery.CategoryToolExecution), res.Category)
}

func TestExecuteToolRecoveryDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryEnabled = false
	svc := newTestService(t, cfg, Dependencies{})

	res := svc.ExecuteTool(context.Background(), "fail", nil)
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryToolExecution), res.Category)

	plan, _ := svc.Recovery().Strategy(recovery.CategoryToolExecution)
	assert.Zero(t, plan.Attempts)
}

func TestExecuteToolRecoversPanickingAction(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})
	require.NoError(t, svc.Recovery().RegisterStrategy(recovery.Strategy{
		Category:      recovery.CategoryToolExecution,
		MaxAttempts:   2,
		BackoffFactor: 1,
		Actions:       []string{recovery.ActionResetToolStats, recovery.ActionRetryOperation},
	}))
	svc.Recovery().RegisterAction(recovery.ActionResetToolStats, func(ctx context.Context, req recovery.Request) (interface{}, error) {
		panic("reset exploded")
	})

	var res Result
	assert.NotPanics(t, func() {
		res = svc.ExecuteTool(context.Background(), "fail", nil)
	})
	assert.False(t, res.Success)
}

func TestExecuteChain(t *testing.T) {
	tools := []toolexecutor.ToolDescriptor{
		{Name: "base", Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return "base", nil }},
		{Name: "derived", Dependencies: []string{"base"}, Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return "derived", nil }},
	}
	svc := newTestService(t, testConfig(), Dependencies{Tools: tools})
	ctx := context.Background()

	res := svc.ExecuteChain(ctx, []toolexecutor.ChainStep{
		{Tool: "echo", Params: map[string]interface{}{"word": "hi"}},
		{Tool: "concat", Params: map[string]interface{}{"parts": []interface{}{"say"}}, PassOutputs: true},
	})
	require.True(t, res.Success, res.Message)
	results := res.Output.([]*toolexecutor.ExecutionResult)
	require.Len(t, results, 2)
	assert.Equal(t, "say map[word:hi]", results[1].Output)

	res = svc.ExecuteChain(ctx, []toolexecutor.ChainStep{{Tool: "derived"}, {Tool: "base"}})
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryDependency), res.Category)

	res = svc.ExecuteChain(ctx, []toolexecutor.ChainStep{{Tool: "base"}, {Tool: "fail"}, {Tool: "echo"}})
	assert.False(t, res.Success)
	partial, ok := res.Output.([]*toolexecutor.ExecutionResult)
	require.True(t, ok)
	assert.NotEmpty(t, partial)
	assert.Equal(t, "base", partial[0].Tool)
}

func TestExecuteStrategyPersistsMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.StrategyDir = t.TempDir()
	cfg.StrategyFormat = "yaml"
	svc := newTestService(t, cfg, Dependencies{})

	require.NoError(t, svc.SaveStrategy(fallbackStrategy()))
	assert.FileExists(t, filepath.Join(cfg.StrategyDir, "triage.yaml"))

	res := svc.ExecuteStrategy(context.Background(), "triage", map[string]interface{}{"subject": "invoice"})
	require.True(t, res.Success, res.Message)

	results := res.Output.(map[string]interface{})
	assert.Contains(t, results, "A")
	assert.Contains(t, results, "C")
	assert.NotContains(t, results, "B")
	assert.Equal(t, map[string]interface{}{"subject": "invoice"}, results["C"])
	require.NotNil(t, res.Run)
	assert.Equal(t, 1, res.Run.Failed)

	store, err := strategy.NewFileStore(cfg.StrategyDir, "yaml")
	require.NoError(t, err)
	persisted, err := store.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.UsageCount)
	assert.InDelta(t, 0.5*0.9+0.5*0.1, persisted.SuccessRate, 1e-9)

	// A second service picks the strategy up from disk.
	again := newTestService(t, cfg, Dependencies{})
	_, err = again.Engine().Get("triage")
	assert.NoError(t, err)

	require.NoError(t, svc.RemoveStrategy("triage"))
	assert.NoFileExists(t, filepath.Join(cfg.StrategyDir, "triage.yaml"))
	assert.Error(t, svc.RemoveStrategy("triage"))
}

func TestExecuteStrategyNotFound(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})

	res := svc.ExecuteStrategy(context.Background(), "missing", nil)
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryNotFound), res.Category)

	res = svc.ExecuteStrategy(context.Background(), "", map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryNotFound), res.Category)
	assert.Contains(t, res.Message, ErrNoStrategyAvailable.Error())
}

func TestSelectAndExecute(t *testing.T) {
	svc := newTestService(t, testConfig(), Dependencies{})
	require.NoError(t, svc.SaveStrategy(fallbackStrategy()))
	require.NoError(t, svc.SaveStrategy(&strategy.Strategy{
		ID:          "needs-missing-tool",
		Mode:        strategy.ModeSequential,
		Steps:       map[string]*strategy.Step{"x": {Tool: "not-registered"}},
		EntryPoints: []string{"x"},
		SuccessRate: 1,
	}))

	selected, ok := svc.SelectStrategy(context.Background(), map[string]interface{}{}, nil)
	require.True(t, ok)
	assert.Equal(t, "triage", selected.ID)

	_, ok = svc.SelectStrategy(context.Background(), nil, map[string]bool{"echo": true})
	assert.False(t, ok)

	res := svc.ExecuteStrategy(context.Background(), "", map[string]interface{}{"subject": "s"})
	assert.True(t, res.Success)
	require.NotNil(t, res.Run)
	assert.Equal(t, "triage", res.Run.StrategyID)
}

func TestExecuteStrategyMemoized(t *testing.T) {
	var calls int32
	counter := toolexecutor.ToolDescriptor{
		Name: "counter",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return atomic.AddInt32(&calls, 1), nil
		},
	}
	cfg := testConfig()
	cfg.Memoize = true
	svc := newTestService(t, cfg, Dependencies{Tools: []toolexecutor.ToolDescriptor{counter}})
	require.NoError(t, svc.SaveStrategy(&strategy.Strategy{
		ID:          "count",
		Mode:        strategy.ModeSequential,
		Steps:       map[string]*strategy.Step{"c": {Tool: "counter"}},
		EntryPoints: []string{"c"},
	}))

	ctx := context.Background()
	first := svc.ExecuteStrategy(ctx, "count", map[string]interface{}{"q": "a"})
	require.True(t, first.Success)
	assert.False(t, first.Memoized)

	second := svc.ExecuteStrategy(ctx, "count", map[string]interface{}{"q": "a"})
	require.True(t, second.Success)
	assert.True(t, second.Memoized)
	assert.Equal(t, map[string]interface{}{"c": float64(1)}, second.Output)

	third := svc.ExecuteStrategy(ctx, "count", map[string]interface{}{"q": "b"})
	assert.False(t, third.Memoized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMemoizationKey(t *testing.T) {
	a := memoizationKey("s", map[string]interface{}{"x": 1, "y": "z"})
	b := memoizationKey("s", map[string]interface{}{"y": "z", "x": 1})
	c := memoizationKey("s", map[string]interface{}{"x": 2, "y": "z"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, memoizationKey("t", map[string]interface{}{"x": 1, "y": "z"}))
}

func TestCacheOperations(t *testing.T) {
	cfg := testConfig()
	cfg.CacheBackend = cache.BackendSQLite
	cfg.CachePath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Cache.MaxSizeBytes = 64
	cfg.Cache.CompressionEnabled = false
	svc := newTestService(t, cfg, Dependencies{})
	ctx := context.Background()

	res := svc.CachePut(ctx, "a", "first value that is long")
	require.True(t, res.Success)
	res = svc.CachePut(ctx, "b", "second value that is longer than the first")
	require.True(t, res.Success)
	assert.Equal(t, map[string]interface{}{"evicted": []string{"a"}}, res.Output)

	// "a" was spilled to SQLite and is promoted back on read.
	res = svc.CacheGet(ctx, "a")
	require.True(t, res.Success)
	assert.Equal(t, "first value that is long", res.Output)

	res = svc.CacheGet(ctx, "zzz")
	assert.False(t, res.Success)
	assert.Equal(t, string(recovery.CategoryNotFound), res.Category)

	stats := svc.CacheStats()
	assert.LessOrEqual(t, stats.TotalSizeBytes, int64(64))

	report, err := svc.Maintain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansDeleted)

	res = svc.ExecuteTool(ctx, "cache_get", map[string]interface{}{"key": "a"})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Output.(map[string]interface{})["found"])
}

func TestStrategyCompletedHook(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "completed.txt")
	h, err := hooks.NewManager(hooks.Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []hooks.Hook{{
			Event:   hooks.EventStrategyCompleted,
			Script:  "echo \"$CONDUCTOR_HOOK_DATA_STRATEGY_ID $CONDUCTOR_HOOK_DATA_FAILED\" > " + outputPath,
			Enabled: true,
		}},
	})
	require.NoError(t, err)

	svc, err := New(testConfig(), Dependencies{Logger: zerolog.Nop(), Hooks: h})
	require.NoError(t, err)
	require.NoError(t, svc.SaveStrategy(fallbackStrategy()))

	res := svc.ExecuteStrategy(context.Background(), "triage", map[string]interface{}{"subject": "x"})
	require.True(t, res.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))
	require.NoError(t, svc.Close(ctx))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "triage 1\n", string(content))
}

func TestNewFailsOnBadBackend(t *testing.T) {
	cfg := testConfig()
	cfg.CacheBackend = "redis"
	_, err := New(cfg, Dependencies{Logger: zerolog.Nop()})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Maintenance.Schedule = "whenever"
	_, err = New(cfg, Dependencies{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	app := config.DefaultConfig()
	app.Strategy.Dir = "/tmp/strategies"
	app.Strategy.Memoize = true
	app.Cache.Backend = "badger"
	app.Cache.Path = "/tmp/cache.badger"

	cfg := FromAppConfig(app)
	assert.Equal(t, app.Tools.MaxConcurrentTools, cfg.Tools.MaxConcurrentTools)
	assert.Equal(t, app.Strategy.MaxChainLength, cfg.Tools.MaxChainLength)
	assert.Equal(t, app.Strategy.MaxStepsPerRun, cfg.Strategy.MaxStepsPerRun)
	assert.Equal(t, "/tmp/strategies", cfg.StrategyDir)
	assert.True(t, cfg.Memoize)
	assert.Equal(t, "badger", cfg.CacheBackend)
	assert.Equal(t, app.Cache.CleanupInterval, cfg.Maintenance.Schedule)
	assert.Equal(t, app.Recovery.Enabled, cfg.RecoveryEnabled)
}
