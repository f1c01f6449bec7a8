package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/hooks"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

func newTestCoordinator(t *testing.T, h *hooks.Manager) *Coordinator {
	t.Helper()
	return NewCoordinator(Config{BaseDelay: time.Millisecond, Hooks: h, Logger: zerolog.Nop()})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), CategoryCancelled},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"tool timeout", &toolexecutor.ToolExecutionError{Tool: "a", LastErr: toolexecutor.ErrTimeout}, CategoryTimeout},
		{"tool failure", &toolexecutor.ToolExecutionError{Tool: "a", LastErr: errors.New("boom")}, CategoryToolExecution},
		{"cycle", &toolexecutor.CyclicDependencyError{Tools: []string{"a", "b"}}, CategoryDependency},
		{"invalid chain", &toolexecutor.InvalidChainError{Position: 1, Tool: "b"}, CategoryDependency},
		{"params", fmt.Errorf("%w: missing key", toolexecutor.ErrInvalidParameters), CategoryValidation},
		{"strategy shape", fmt.Errorf("%w: no steps", strategy.ErrInvalidStrategy), CategoryValidation},
		{"cache io", fmt.Errorf("%w: disk full", cache.ErrCacheIO), CategoryStorage},
		{"tool missing", fmt.Errorf("%w: x", toolexecutor.ErrToolNotFound), CategoryNotFound},
		{"strategy missing", strategy.ErrStrategyNotFound, CategoryNotFound},
		{"message timeout", errors.New("upstream timed out"), CategoryTimeout},
		{"message storage", errors.New("database is locked"), CategoryStorage},
		{"message not found", errors.New("no such file"), CategoryNotFound},
		{"opaque", errors.New("something odd"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			assert.Equal(t, tt.want, f.Category)
			assert.Equal(t, defaultSeverity[tt.want], f.Severity)
			assert.Equal(t, tt.err.Error(), f.Message)
		})
	}
}

func TestRecoverRetriesOperation(t *testing.T) {
	c := newTestCoordinator(t, nil)

	calls := 0
	outcome := c.Recover(context.Background(), context.DeadlineExceeded, Operation{
		Name: "execute_tool",
		Retry: func(ctx context.Context) (interface{}, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("still slow")
			}
			return "ok", nil
		},
	})

	assert.True(t, outcome.Recovered)
	assert.Equal(t, CategoryTimeout, outcome.Category)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, "ok", outcome.Output)
	assert.NoError(t, outcome.Err)
	assert.NotEmpty(t, outcome.ID)

	s, ok := c.Strategy(CategoryTimeout)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Attempts)
	assert.InDelta(t, (0.5*0.9)*0.9+0.1, s.SuccessRate, 1e-9)
}

func TestRecoverExhausted(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.NoError(t, c.RegisterStrategy(Strategy{
		Category:      CategoryToolExecution,
		MaxAttempts:   3,
		BackoffFactor: 2,
		Actions:       []string{ActionRetryOperation},
		SuccessRate:   0.8,
	}))

	calls := 0
	cause := &toolexecutor.ToolExecutionError{Tool: "flaky", Attempts: 4, Retries: 3, LastErr: errors.New("boom")}
	outcome := c.Recover(context.Background(), cause, Operation{
		Name:   "execute_tool",
		Target: "flaky",
		Retry: func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("boom")
		},
	})

	assert.False(t, outcome.Recovered)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, CategoryToolExecution, outcome.Category)
	assert.ErrorIs(t, outcome.Err, ErrRecoveryExhausted)
	assert.Contains(t, outcome.Message, "execute_tool")

	s, _ := c.Strategy(CategoryToolExecution)
	assert.InDelta(t, 0.8*0.9*0.9*0.9, s.SuccessRate, 1e-9)
}

func TestRecoverNotifyIsTerminal(t *testing.T) {
	c := newTestCoordinator(t, nil)
	outcome := c.Recover(context.Background(), fmt.Errorf("%w: bad", toolexecutor.ErrInvalidParameters), Operation{Name: "execute_tool"})

	assert.False(t, outcome.Recovered)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, CategoryValidation, outcome.Category)
	assert.ErrorIs(t, outcome.Err, ErrRecoveryExhausted)
	assert.ErrorIs(t, outcome.Err, ErrNotRecoverable)
}

func TestRecoverCancelledSkipsActions(t *testing.T) {
	c := newTestCoordinator(t, nil)
	called := false
	outcome := c.Recover(context.Background(), context.Canceled, Operation{
		Retry: func(ctx context.Context) (interface{}, error) {
			called = true
			return nil, nil
		},
	})
	assert.False(t, called)
	assert.False(t, outcome.Recovered)
	assert.Zero(t, outcome.Attempts)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestRecoverCustomActionsRunInOrder(t *testing.T) {
	c := newTestCoordinator(t, nil)

	var order []string
	c.RegisterAction(ActionCompactCache, func(ctx context.Context, req Request) (interface{}, error) {
		order = append(order, ActionCompactCache)
		return nil, nil
	})
	c.RegisterAction(ActionRetryOperation, func(ctx context.Context, req Request) (interface{}, error) {
		order = append(order, ActionRetryOperation)
		return req.Attempt, nil
	})

	outcome := c.Recover(context.Background(), fmt.Errorf("%w: write", cache.ErrCacheIO), Operation{Name: "cache_put"})
	assert.True(t, outcome.Recovered)
	assert.Equal(t, CategoryStorage, outcome.Category)
	assert.Equal(t, SeverityHigh, outcome.Severity)
	assert.Equal(t, 1, outcome.Output)
	assert.Equal(t, []string{ActionCompactCache, ActionRetryOperation}, order)
}

func TestRecoverUnknownActionAndPanic(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.NoError(t, c.RegisterStrategy(Strategy{
		Category:    CategoryUnknown,
		MaxAttempts: 1,
		Actions:     []string{"reboot_universe"},
	}))
	outcome := c.Recover(context.Background(), errors.New("odd"), Operation{})
	assert.False(t, outcome.Recovered)
	assert.ErrorIs(t, outcome.Err, ErrUnknownAction)

	c.RegisterAction("explode", func(ctx context.Context, req Request) (interface{}, error) {
		panic("kaboom")
	})
	require.NoError(t, c.RegisterStrategy(Strategy{
		Category:    CategoryUnknown,
		MaxAttempts: 2,
		Actions:     []string{"explode"},
	}))
	assert.NotPanics(t, func() {
		outcome = c.Recover(context.Background(), errors.New("odd"), Operation{})
	})
	assert.False(t, outcome.Recovered)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Contains(t, outcome.Err.Error(), "kaboom")
}

func TestRecoverStopsOnContextCancel(t *testing.T) {
	c := NewCoordinator(Config{BaseDelay: time.Hour, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome := c.Recover(ctx, errors.New("odd"), Operation{
		Retry: func(ctx context.Context) (interface{}, error) { return nil, errors.New("nope") },
	})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, outcome.Recovered)
	assert.Equal(t, 1, outcome.Attempts)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestRegisterStrategyValidation(t *testing.T) {
	c := newTestCoordinator(t, nil)
	assert.Error(t, c.RegisterStrategy(Strategy{}))
	assert.Error(t, c.RegisterStrategy(Strategy{Category: CategoryTimeout, MaxAttempts: -1}))
	assert.Len(t, c.Strategies(), len(Categories()))
}

func TestBackoff(t *testing.T) {
	c := NewCoordinator(Config{BaseDelay: 100 * time.Millisecond, Logger: zerolog.Nop()})
	assert.Equal(t, 200*time.Millisecond, c.backoff(2, 1))
	assert.Equal(t, 800*time.Millisecond, c.backoff(2, 3))
	assert.Equal(t, 100*time.Millisecond, c.backoff(1, 5))
}

func TestExhaustedHookFires(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "hook.txt")
	h, err := hooks.NewManager(hooks.Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []hooks.Hook{{
			Event:   hooks.EventRecoveryExhausted,
			Script:  "echo \"$CONDUCTOR_HOOK_DATA_CATEGORY $CONDUCTOR_HOOK_DATA_TARGET\" > " + outputPath,
			Enabled: true,
		}},
	})
	require.NoError(t, err)

	c := newTestCoordinator(t, h)
	outcome := c.Recover(context.Background(), fmt.Errorf("%w: ghost", toolexecutor.ErrToolNotFound), Operation{
		Name:   "execute_tool",
		Target: "ghost",
	})
	require.False(t, outcome.Recovered)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "not_found ghost\n", string(content))
}
