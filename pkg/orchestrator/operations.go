package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/harun/conductor/internal/tracing"
	"github.com/harun/conductor/pkg/cache"
	"github.com/harun/conductor/pkg/hooks"
	"github.com/harun/conductor/pkg/recovery"
	"github.com/harun/conductor/pkg/strategy"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// Result is what every caller-facing operation returns
type Result struct {
	Success   bool               `json:"success"`
	Output    interface{}        `json:"output,omitempty"`
	Category  string             `json:"category,omitempty"`
	Message   string             `json:"message,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	Recovered bool               `json:"recovered,omitempty"`
	Memoized  bool               `json:"memoized,omitempty"`
	Run       *strategy.RunResult `json:"run,omitempty"`
}

// ExecuteTool runs a tool and its dependencies
func (s *Service) ExecuteTool(ctx context.Context, name string, params map[string]interface{}) (result Result) {
	runID := tracing.NewRunID()
	defer s.guard("execute_tool", runID, &result)
	ctx = tracing.WithRunID(ctx, runID)

	run := func(ctx context.Context) (interface{}, error) {
		res, err := s.tools.Execute(ctx, name, params)
		if err != nil {
			return nil, err
		}
		return res.Output, nil
	}

	output, err := run(ctx)
	if err != nil {
		result = s.fail(ctx, err, recovery.Operation{Name: "execute_tool", Target: name, Retry: run})
		result.RunID = runID
		return result
	}
	return Result{Success: true, Output: output, RunID: runID}
}

// ExecuteChain runs an explicit tool chain. On failure Output holds the
// results of the steps that completed.
func (s *Service) ExecuteChain(ctx context.Context, steps []toolexecutor.ChainStep) (result Result) {
	runID := tracing.NewRunID()
	defer s.guard("execute_chain", runID, &result)
	ctx = tracing.WithRunID(ctx, runID)

	var partial []*toolexecutor.ExecutionResult
	run := func(ctx context.Context) (interface{}, error) {
		results, err := s.tools.ExecuteChain(ctx, steps)
		partial = results
		if err != nil {
			return nil, err
		}
		return results, nil
	}

	output, err := run(ctx)
	if err != nil {
		var chainErr *toolexecutor.InvalidChainError
		op := recovery.Operation{Name: "execute_chain", Target: chainTarget(steps)}
		// An invalid chain executes nothing, so retrying cannot help.
		if !errors.As(err, &chainErr) {
			op.Retry = run
		}
		result = s.fail(ctx, err, op)
		if !result.Success && len(partial) > 0 {
			result.Output = partial
		}
		result.RunID = runID
		return result
	}
	return Result{Success: true, Output: output, RunID: runID}
}

// SelectStrategy picks the best strategy for runCtx. A nil available map
// means every registered tool.
func (s *Service) SelectStrategy(ctx context.Context, runCtx map[string]interface{}, available map[string]bool) (*strategy.Strategy, bool) {
	if available == nil {
		available = s.tools.Available()
	}
	return s.engine.Select(runCtx, available)
}

// ExecuteStrategy runs a strategy by id. An empty id selects one for runCtx.
// Per-step failures are reported inside the run and do not fail the result.
func (s *Service) ExecuteStrategy(ctx context.Context, id string, runCtx map[string]interface{}) (result Result) {
	runID := tracing.NewRunID()
	defer s.guard("execute_strategy", runID, &result)
	ctx = tracing.WithRunID(ctx, runID)

	if id == "" {
		selected, ok := s.SelectStrategy(ctx, runCtx, nil)
		if !ok {
			return Result{
				Category: string(recovery.CategoryNotFound),
				Message:  ErrNoStrategyAvailable.Error(),
				RunID:    runID,
			}
		}
		id = selected.ID
	}

	memoKey := ""
	if s.cfg.Memoize {
		memoKey = memoizationKey(id, runCtx)
		if cached, ok := s.lookupMemo(ctx, memoKey); ok {
			return Result{Success: true, Output: cached, RunID: runID, Memoized: true, Message: "memoized result"}
		}
	}

	var run *strategy.RunResult
	execute := func(ctx context.Context) (interface{}, error) {
		res, err := s.engine.Execute(ctx, id, runCtx)
		if res != nil {
			run = res
		}
		if err != nil {
			return nil, err
		}
		return res.Results, nil
	}

	output, err := execute(ctx)
	if err != nil {
		op := recovery.Operation{Name: "execute_strategy", Target: id}
		if !errors.Is(err, strategy.ErrStrategyNotFound) {
			op.Retry = execute
		}
		result = s.fail(ctx, err, op)
		result.RunID = runID
		result.Run = run
		if !result.Success && run != nil {
			result.Output = run.Results
		}
		s.strategyCompleted(ctx, id, runID, result)
		return result
	}

	if memoKey != "" && run.Failed == 0 {
		s.storeMemo(ctx, memoKey, output)
	}

	result = Result{
		Success: true,
		Output:  output,
		RunID:   runID,
		Run:     run,
		Message: fmt.Sprintf("%d step(s) executed, %d failed", run.StepsExecuted, run.Failed),
	}
	s.strategyCompleted(ctx, id, runID, result)
	return result
}

// SaveStrategy registers st and persists it to the strategy store
func (s *Service) SaveStrategy(st *strategy.Strategy) error {
	if err := s.engine.Register(st); err != nil {
		return err
	}
	if s.store == nil {
		return nil
	}
	stored, err := s.engine.Get(st.ID)
	if err != nil {
		return err
	}
	return s.store.Save(stored)
}

// RemoveStrategy unregisters id and deletes its document
func (s *Service) RemoveStrategy(id string) error {
	if !s.engine.Remove(id) {
		return fmt.Errorf("%w: %s", strategy.ErrStrategyNotFound, id)
	}
	if s.store == nil {
		return nil
	}
	return s.store.Delete(id)
}

// CacheGet returns the decoded value stored under key
func (s *Service) CacheGet(ctx context.Context, key string) (result Result) {
	defer s.guard("cache_get", "", &result)

	e, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return s.fail(ctx, err, recovery.Operation{Name: "cache_get", Target: key})
	}
	if !ok {
		return Result{Category: string(recovery.CategoryNotFound), Message: fmt.Sprintf("cache key %q not found", key)}
	}
	value, err := e.Value()
	if err != nil {
		return s.fail(ctx, err, recovery.Operation{Name: "cache_get", Target: key})
	}
	return Result{Success: true, Output: value}
}

// CachePut stores value under key. Output lists the evicted keys.
func (s *Service) CachePut(ctx context.Context, key string, value interface{}) (result Result) {
	defer s.guard("cache_put", "", &result)

	put := func(ctx context.Context) (interface{}, error) {
		e, err := cache.NewEntry(key, value)
		if err != nil {
			return nil, err
		}
		evicted, err := s.cache.Put(ctx, key, e)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(evicted))
		for _, ev := range evicted {
			keys = append(keys, ev.ID)
		}
		return map[string]interface{}{"evicted": keys}, nil
	}

	output, err := put(ctx)
	if err != nil {
		return s.fail(ctx, err, recovery.Operation{Name: "cache_put", Target: key, Retry: put})
	}
	return Result{Success: true, Output: output}
}

// CacheStats returns the in-memory cache counters
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Maintain runs one cache maintenance pass now
func (s *Service) Maintain(ctx context.Context) (cache.MaintenanceReport, error) {
	report, err := s.maintenance.RunOnce(ctx)
	if s.hooks != nil {
		s.hooks.Dispatch(ctx, hooks.EventMaintenanceRun, map[string]interface{}{
			"pruned":          report.Pruned,
			"orphans_deleted": report.OrphansDeleted,
			"compacted":       report.Compacted,
			"success":         err == nil,
		})
	}
	return report, err
}

// fail routes err through recovery and converts the outcome to a Result
func (s *Service) fail(ctx context.Context, err error, op recovery.Operation) Result {
	if !s.cfg.RecoveryEnabled {
		f := recovery.Classify(err)
		return Result{Category: string(f.Category), Message: err.Error()}
	}

	outcome := s.recovery.Recover(ctx, err, op)
	if outcome.Recovered {
		return Result{
			Success:   true,
			Output:    outcome.Output,
			Category:  string(outcome.Category),
			Message:   outcome.Message,
			Recovered: true,
		}
	}
	return Result{Category: string(outcome.Category), Message: outcome.Message}
}

// guard turns a panic in an operation into a failed Result
func (s *Service) guard(op, runID string, result *Result) {
	if r := recover(); r != nil {
		s.logger.Error().
			Str("operation", op).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("Operation panicked")
		*result = Result{
			Category: string(recovery.CategoryUnknown),
			Message:  fmt.Sprintf("%s panicked: %v", op, r),
			RunID:    runID,
		}
	}
}

func (s *Service) strategyCompleted(ctx context.Context, id, runID string, result Result) {
	data := map[string]interface{}{
		"strategy_id": id,
		"run_id":      runID,
		"success":     result.Success,
	}
	if result.Run != nil {
		data["steps_executed"] = result.Run.StepsExecuted
		data["failed"] = result.Run.Failed
	}
	s.hooks.Dispatch(ctx, hooks.EventStrategyCompleted, data)
}

func (s *Service) lookupMemo(ctx context.Context, key string) (interface{}, bool) {
	e, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	value, err := e.Value()
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding unreadable memoized result")
		return nil, false
	}
	return value, true
}

func (s *Service) storeMemo(ctx context.Context, key string, output interface{}) {
	e, err := cache.NewEntry(key, output)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Result not memoizable")
		return
	}
	if _, err := s.cache.Put(ctx, key, e); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to memoize result")
	}
}

// memoizationKey hashes the canonical JSON of runCtx. encoding/json sorts
// map keys, so equal contexts hash equally.
func memoizationKey(id string, runCtx map[string]interface{}) string {
	data, err := json.Marshal(runCtx)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", runCtx))
	}
	sum := sha256.Sum256(data)
	return "strategy:" + id + ":" + hex.EncodeToString(sum[:16])
}

func chainTarget(steps []toolexecutor.ChainStep) string {
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1].Tool
}
