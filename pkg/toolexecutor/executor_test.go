package toolexecutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	te := New(testConfig())

	require.NoError(t, te.Register(ToolDescriptor{
		Name:       "upper",
		Parameters: []ToolParameter{{Name: "text", Type: "string", Required: true}},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"].(string) + "!", nil
		},
	}))

	res, err := te.Execute(context.Background(), "upper", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi!", res.Output)
	assert.Equal(t, 1, res.Attempts)

	stats, err := te.Stats("upper")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.SuccessfulCalls)
	assert.False(t, stats.LastExecuted.IsZero())
}

func TestExecute_ToolNotFound(t *testing.T) {
	te := New(testConfig())

	_, err := te.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecute_InvalidParameters(t *testing.T) {
	te := New(testConfig())
	var calls int32

	require.NoError(t, te.Register(ToolDescriptor{
		Name:       "strict",
		Parameters: []ToolParameter{{Name: "n", Type: "integer", Required: true}},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		},
	}))

	_, err := te.Execute(context.Background(), "strict", map[string]interface{}{"n": "three"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.Zero(t, atomic.LoadInt32(&calls))

	stats, _ := te.Stats("strict")
	assert.Equal(t, int64(1), stats.ErrorTypes["validation"])
}

func TestExecute_RetriesExhausted(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		te := New(testConfig())
		var calls int32

		require.NoError(t, te.Register(ToolDescriptor{
			Name:       "flaky",
			MaxRetries: Retries(n),
			Handler:    failingHandler(&calls),
		}))

		_, err := te.Execute(context.Background(), "flaky", nil)

		var execErr *ToolExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "flaky", execErr.Tool)
		assert.Equal(t, n+1, execErr.Attempts)
		assert.Equal(t, n, execErr.Retries)
		assert.EqualError(t, execErr.LastErr, "boom")
		assert.Equal(t, int32(n+1), atomic.LoadInt32(&calls))

		stats, _ := te.Stats("flaky")
		assert.Equal(t, int64(n+1), stats.FailedCalls)
	}
}

func TestExecute_InheritsDefaultRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	te := New(cfg)
	var calls int32

	require.NoError(t, te.Register(ToolDescriptor{Name: "plain", Handler: failingHandler(&calls)}))

	_, err := te.Execute(context.Background(), "plain", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_NoRetry(t *testing.T) {
	te := New(testConfig())
	var calls int32

	require.NoError(t, te.Register(ToolDescriptor{Name: "once", MaxRetries: Retries(0), Handler: failingHandler(&calls)}))

	_, err := te.Execute(context.Background(), "once", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_RecoversAfterRetry(t *testing.T) {
	te := New(testConfig())
	var calls int32

	require.NoError(t, te.Register(ToolDescriptor{
		Name: "eventually",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("not yet")
			}
			return "ok", nil
		},
	}))

	res, err := te.Execute(context.Background(), "eventually", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	stats, _ := te.Stats("eventually")
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(2), stats.FailedCalls)
	assert.Equal(t, int64(1), stats.SuccessfulCalls)
}

func TestExecute_Timeout(t *testing.T) {
	te := New(testConfig())

	require.NoError(t, te.Register(ToolDescriptor{
		Name:       "slow",
		Timeout:    20 * time.Millisecond,
		MaxRetries: Retries(1),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	_, err := te.Execute(context.Background(), "slow", nil)

	var execErr *ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, execErr.Attempts)
	assert.ErrorIs(t, err, ErrTimeout)

	stats, _ := te.Stats("slow")
	assert.Equal(t, int64(2), stats.ErrorTypes["timeout"])
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	te := New(testConfig())

	require.NoError(t, te.Register(ToolDescriptor{
		Name:       "panics",
		MaxRetries: Retries(0),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("kaboom")
		},
	}))

	_, err := te.Execute(context.Background(), "panics", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestExecute_CancelStopsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	te := New(cfg)
	var calls int32

	require.NoError(t, te.Register(ToolDescriptor{Name: "fails", Handler: failingHandler(&calls)}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := te.Execute(ctx, "fails", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_DependencyInjection(t *testing.T) {
	te := New(testConfig())

	var order []string
	var mu sync.Mutex
	record := func(name string, out interface{}) ToolHandler {
		return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return out, nil
		}
	}

	require.NoError(t, te.Register(ToolDescriptor{Name: "fetch", Handler: record("fetch", "raw")}))
	require.NoError(t, te.Register(ToolDescriptor{Name: "parse", Dependencies: []string{"fetch"}, Handler: record("parse", "parsed")}))

	var seen map[string]interface{}
	require.NoError(t, te.Register(ToolDescriptor{
		Name:         "report",
		Dependencies: []string{"parse", "fetch"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = params[ParamDependencies].(map[string]interface{})
			return "done", nil
		},
	}))

	res, err := te.Execute(context.Background(), "report", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, []string{"fetch", "parse"}, order)
	assert.Equal(t, map[string]interface{}{"fetch": "raw", "parse": "parsed"}, seen)
}

func TestExecute_InjectionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DependencyInjection = false
	te := New(cfg)

	require.NoError(t, te.Register(tool("a")))

	var hasDeps bool
	require.NoError(t, te.Register(ToolDescriptor{
		Name:         "b",
		Dependencies: []string{"a"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			_, hasDeps = params[ParamDependencies]
			return nil, nil
		},
	}))

	_, err := te.Execute(context.Background(), "b", nil)
	require.NoError(t, err)
	assert.False(t, hasDeps)
}

func TestExecute_DependencyFailureStopsTarget(t *testing.T) {
	te := New(testConfig())
	var depCalls, targetCalls int32

	require.NoError(t, te.Register(ToolDescriptor{Name: "dep", MaxRetries: Retries(0), Handler: failingHandler(&depCalls)}))
	require.NoError(t, te.Register(ToolDescriptor{
		Name:         "target",
		Dependencies: []string{"dep"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&targetCalls, 1)
			return nil, nil
		},
	}))

	_, err := te.Execute(context.Background(), "target", nil)

	var execErr *ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "dep", execErr.Tool)
	assert.Zero(t, atomic.LoadInt32(&targetCalls))
}

func TestExecute_DeepChainWithSingleSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTools = 1
	te := New(cfg)

	require.NoError(t, te.Register(tool("t0")))
	for i, name := range []string{"t1", "t2", "t3", "t4"} {
		prev := []string{"t0", "t1", "t2", "t3"}[i]
		require.NoError(t, te.Register(tool(name, prev)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := te.Execute(ctx, "t4", nil)
	require.NoError(t, err)
	assert.Equal(t, "t4-out", res.Output)
}

func TestExecute_ConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTools = 2
	te := New(cfg)

	var inFlight, peak int32
	require.NoError(t, te.Register(ToolDescriptor{
		Name: "busy",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = te.Execute(context.Background(), "busy", nil)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))

	stats, _ := te.Stats("busy")
	assert.Equal(t, int64(8), stats.TotalCalls)
}

func TestResetStats(t *testing.T) {
	te := New(testConfig())
	require.NoError(t, te.Register(tool("a")))

	_, err := te.Execute(context.Background(), "a", nil)
	require.NoError(t, err)

	require.NoError(t, te.ResetStats("a"))
	stats, _ := te.Stats("a")
	assert.Zero(t, stats.TotalCalls)

	assert.ErrorIs(t, te.ResetStats("b"), ErrToolNotFound)
	assert.NoError(t, te.ResetStats(""))
}

func TestBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = 100 * time.Millisecond
	cfg.RetryBackoffFactor = 2
	te := New(cfg)

	assert.Equal(t, 100*time.Millisecond, te.backoff(1))
	assert.Equal(t, 200*time.Millisecond, te.backoff(2))
	assert.Equal(t, 400*time.Millisecond, te.backoff(3))
}
