// Package hooks runs operator shell scripts on orchestration events.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Events emitted by the orchestrator
const (
	EventRecoveryExhausted = "recovery.exhausted"
	EventRecoveryRecovered = "recovery.recovered"
	EventStrategyCompleted = "strategy.completed"
	EventMaintenanceRun    = "cache.maintenance"
)

const envPrefix = "CONDUCTOR_HOOK_"

// Known reports whether event is one the orchestrator emits.
func Known(event string) bool {
	switch event {
	case EventRecoveryExhausted, EventRecoveryRecovered, EventStrategyCompleted, EventMaintenanceRun:
		return true
	}
	return false
}

// Hook binds a shell script to an event.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for events. Dispatched hooks run in the
// background and are awaited by Wait.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[string][]Hook

	inflight sync.WaitGroup
}

// NewManager creates a hook manager. Disabled hooks are ignored.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if err := manager.Register(hook); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Register adds hook to the manager
func (m *Manager) Register(hook Hook) error {
	if !hook.Enabled {
		return nil
	}
	event := strings.TrimSpace(hook.Event)
	if !Known(event) {
		return fmt.Errorf("unknown hook event %q", hook.Event)
	}
	if strings.TrimSpace(hook.Script) == "" {
		return fmt.Errorf("hook script is required for event %q", event)
	}
	hook.Event = event

	m.mu.Lock()
	m.hooksByEvent[event] = append(m.hooksByEvent[event], hook)
	m.mu.Unlock()
	return nil
}

// Has reports whether any hook listens for event
func (m *Manager) Has(event string) bool {
	if m == nil || !m.enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooksByEvent[event]) > 0
}

// Trigger runs the hooks for event synchronously and joins their errors.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[event]...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		if err := m.executeHook(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch runs the hooks for event in the background. Failures are logged.
// The hooks are detached from ctx cancellation but keep its values.
func (m *Manager) Dispatch(ctx context.Context, event string, data map[string]interface{}) {
	if !m.Has(event) {
		return
	}
	bg := context.WithoutCancel(ctx)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.Trigger(bg, event, data); err != nil {
			m.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
		}
	}()
}

// Wait blocks until dispatched hooks finish or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) executeHook(ctx context.Context, event string, hook Hook, data map[string]interface{}) error {
	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	runCtx := ctx
	cancel := func() {}
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(event, data)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hookID).
		Dur("duration", time.Since(start)).
		Str("output", outputText).
		Msg("Hook executed")
	return nil
}

// buildHookEnvironment exposes the event, each data key as
// CONDUCTOR_HOOK_DATA_<KEY>, and the whole payload as JSON.
func buildHookEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, envPrefix+"EVENT="+event)

	if len(data) == 0 {
		return env
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, envPrefix+"DATA_"+normalizeEnvKey(key)+"="+fmt.Sprintf("%v", data[key]))
	}
	if payload, err := json.Marshal(data); err == nil {
		env = append(env, envPrefix+"PAYLOAD="+string(payload))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
