package orchestrator

import (
	"context"
	"errors"

	"github.com/harun/conductor/pkg/recovery"
	"github.com/harun/conductor/pkg/toolexecutor"
)

// registerRecoveryActions wires the actions that reach into composed
// components. The coordinator itself only calls these through their names.
func (s *Service) registerRecoveryActions() {
	s.recovery.RegisterAction(recovery.ActionResetToolStats, s.resetToolStats)
	s.recovery.RegisterAction(recovery.ActionClearCache, s.clearCache)
	s.recovery.RegisterAction(recovery.ActionCompactCache, s.compactCache)
}

// resetToolStats clears the counters of the failing tool. No default plan
// uses it; callers opt in through RegisterStrategy. Operations without a
// tool target are left alone.
func (s *Service) resetToolStats(ctx context.Context, req recovery.Request) (interface{}, error) {
	if req.Operation.Target == "" {
		return nil, nil
	}
	err := s.tools.ResetStats(req.Operation.Target)
	if errors.Is(err, toolexecutor.ErrToolNotFound) {
		return nil, nil
	}
	return nil, err
}

func (s *Service) clearCache(ctx context.Context, req recovery.Request) (interface{}, error) {
	n := s.cache.Memory().Clear()
	s.logger.Warn().Int("entries", n).Str("recovery_id", req.ID).Msg("Cache cleared by recovery")
	return nil, nil
}

func (s *Service) compactCache(ctx context.Context, req recovery.Request) (interface{}, error) {
	durable := s.cache.Durable()
	if durable == nil {
		return nil, nil
	}
	return nil, durable.Compact(ctx)
}
