package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, hooks ...Hook) *Manager {
	t.Helper()
	manager, err := NewManager(Config{Enabled: true, Logger: zerolog.Nop(), Hooks: hooks})
	require.NoError(t, err)
	return manager
}

func TestManagerTriggerInjectsEventData(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "env.txt")
	manager := newManager(t, Hook{
		ID:      "exhausted",
		Event:   EventRecoveryExhausted,
		Script:  "echo \"$CONDUCTOR_HOOK_EVENT:$CONDUCTOR_HOOK_DATA_CATEGORY:$CONDUCTOR_HOOK_PAYLOAD\" > " + outputPath,
		Enabled: true,
	})

	require.NoError(t, manager.Trigger(context.Background(), EventRecoveryExhausted, map[string]interface{}{
		"category": "timeout",
	}))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "recovery.exhausted:timeout:{\"category\":\"timeout\"}\n", string(content))
}

func TestManagerRejectsUnknownEvent(t *testing.T) {
	_, err := NewManager(Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks:   []Hook{{Event: "daemon:startup", Script: "true", Enabled: true}},
	})
	assert.Error(t, err)

	_, err = NewManager(Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks:   []Hook{{Event: EventStrategyCompleted, Script: " ", Enabled: true}},
	})
	assert.Error(t, err)
}

func TestManagerDisabled(t *testing.T) {
	manager, err := NewManager(Config{
		Enabled: false,
		Logger:  zerolog.Nop(),
		Hooks:   []Hook{{Event: "anything", Script: "exit 1", Enabled: true}},
	})
	require.NoError(t, err)
	assert.False(t, manager.Has("anything"))
	assert.NoError(t, manager.Trigger(context.Background(), "anything", nil))

	var nilManager *Manager
	assert.False(t, nilManager.Has(EventRecoveryExhausted))
	assert.NoError(t, nilManager.Wait(context.Background()))
}

func TestManagerTriggerReturnsJoinedErrors(t *testing.T) {
	manager := newManager(t,
		Hook{ID: "fail-1", Event: EventStrategyCompleted, Script: "exit 2", Enabled: true},
		Hook{ID: "fail-2", Event: EventStrategyCompleted, Script: "exit 3", Enabled: true},
		Hook{ID: "off", Event: EventStrategyCompleted, Script: "exit 4", Enabled: false},
	)

	err := manager.Trigger(context.Background(), EventStrategyCompleted, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fail-1 failed")
	assert.Contains(t, err.Error(), "hook fail-2 failed")
	assert.NotContains(t, err.Error(), "hook off failed")
}

func TestManagerTriggerRespectsTimeout(t *testing.T) {
	manager := newManager(t, Hook{
		ID:      "slow",
		Event:   EventMaintenanceRun,
		Script:  "sleep 1",
		Enabled: true,
		Timeout: 30 * time.Millisecond,
	})

	err := manager.Trigger(context.Background(), EventMaintenanceRun, nil)
	require.Error(t, err)
	assert.True(t,
		strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
		"expected timeout-related error, got: %v",
		err,
	)
}

func TestManagerDispatchIsAwaited(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "async.txt")
	manager := newManager(t, Hook{
		Event:   EventRecoveryRecovered,
		Script:  "sleep 0.1; echo done > " + outputPath,
		Enabled: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	manager.Dispatch(ctx, EventRecoveryRecovered, map[string]interface{}{"attempts": 1})
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, manager.Wait(waitCtx))

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(content))
}

func TestNormalizeEnvKey(t *testing.T) {
	assert.Equal(t, "RUN_ID", normalizeEnvKey("run-id"))
	assert.Equal(t, "STRATEGY_ID", normalizeEnvKey(" strategy.id "))
	assert.Equal(t, "UNKNOWN", normalizeEnvKey(""))
}
