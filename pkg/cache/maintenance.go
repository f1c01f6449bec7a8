package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/conductor/internal/observability"
)

// MaintenanceConfig controls periodic storage maintenance
type MaintenanceConfig struct {
	// Schedule is a cron spec such as "@every 1h". Empty disables the job.
	Schedule string

	// Compact the durable tier when its free ratio exceeds this.
	CompactThreshold float64

	// Entries scoring below this are pruned unless younger than MinAge.
	RelevanceThreshold float64
	MinAge             time.Duration
}

// DefaultMaintenanceConfig returns the default maintenance settings
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Schedule:           "@every 1h",
		CompactThreshold:   0.3,
		RelevanceThreshold: 0.1,
		MinAge:             7 * 24 * time.Hour,
	}
}

// MaintenanceReport summarizes one maintenance pass
type MaintenanceReport struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Pruned         int           `json:"pruned"`
	OrphansDeleted int           `json:"orphans_deleted"`
	FreeRatio      float64       `json:"free_ratio"`
	Compacted      bool          `json:"compacted"`
}

// Maintenance runs pruning, orphan cleanup and compaction on a cron schedule
type Maintenance struct {
	tiered *Tiered
	cfg    MaintenanceConfig
	cron   *cron.Cron
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	runMu sync.Mutex
	mu    sync.Mutex
	last  MaintenanceReport
}

// NewMaintenance creates a maintenance scheduler for t
func NewMaintenance(t *Tiered, cfg MaintenanceConfig, logger zerolog.Logger) *Maintenance {
	defaults := DefaultMaintenanceConfig()
	if cfg.MinAge <= 0 {
		cfg.MinAge = defaults.MinAge
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = defaults.CompactThreshold
	}

	l := logger.With().Str("component", "cache-maintenance").Logger()
	cl := cronLogger{logger: l}
	return &Maintenance{
		tiered: t,
		cfg:    cfg,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: l,
		now:    time.Now,
	}
}

// Start schedules the maintenance job
func (m *Maintenance) Start() error {
	if m.cfg.Schedule == "" {
		m.logger.Debug().Msg("No maintenance schedule configured")
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	if _, err := m.cron.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.RunOnce(m.ctx); err != nil {
			m.logger.Error().Err(err).Msg("Maintenance run failed")
		}
	}); err != nil {
		m.cancel()
		m.cancel = nil
		return fmt.Errorf("schedule maintenance %q: %w", m.cfg.Schedule, err)
	}
	m.cron.Start()

	m.logger.Info().Str("schedule", m.cfg.Schedule).Msg("Cache maintenance started")
	return nil
}

// Stop halts scheduling and waits for a running pass. If ctx expires first
// the running pass is cancelled between steps and still awaited.
func (m *Maintenance) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	stopped := m.cron.Stop()

	var err error
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		err = ctx.Err()
		m.cancel()
		<-stopped.Done()
	}
	m.cancel()

	m.logger.Info().Msg("Cache maintenance stopped")
	return err
}

// LastReport returns the most recent maintenance report
func (m *Maintenance) LastReport() MaintenanceReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RunOnce performs a single maintenance pass. Passes never overlap.
func (m *Maintenance) RunOnce(ctx context.Context) (report MaintenanceReport, err error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := time.Now()
	now := m.now()
	report.StartedAt = now
	defer func() {
		report.Duration = time.Since(start)
		observability.RecordCacheMaintenance(err == nil)
		m.mu.Lock()
		m.last = report
		m.mu.Unlock()
	}()

	report.Pruned = m.prune(now)

	durable := m.tiered.Durable()
	if durable == nil {
		return report, nil
	}

	if err = ctx.Err(); err != nil {
		return report, err
	}
	report.OrphansDeleted, err = m.deleteOrphans(ctx, durable)
	if err != nil {
		return report, err
	}

	if err = ctx.Err(); err != nil {
		return report, err
	}
	report.FreeRatio, err = durable.FreeRatio(ctx)
	if err != nil {
		return report, err
	}
	if report.FreeRatio > m.cfg.CompactThreshold {
		if err = durable.Compact(ctx); err != nil {
			return report, err
		}
		report.Compacted = true
	}

	m.logger.Debug().
		Int("pruned", report.Pruned).
		Int("orphans", report.OrphansDeleted).
		Float64("free_ratio", report.FreeRatio).
		Bool("compacted", report.Compacted).
		Msg("Maintenance pass complete")
	return report, nil
}

// prune drops old in-memory entries whose relevance fell below the threshold.
// The stored score from the last recall counts when it is higher.
func (m *Maintenance) prune(now time.Time) int {
	mem := m.tiered.Memory()
	pruned := 0
	for _, e := range mem.Snapshot() {
		if now.Sub(e.CreatedAt) < m.cfg.MinAge {
			continue
		}
		score := Relevance("", e, now)
		if e.RelevanceScore > score {
			score = e.RelevanceScore
		}
		if score < m.cfg.RelevanceThreshold && mem.Delete(e.ID) {
			pruned++
		}
	}
	return pruned
}

func (m *Maintenance) deleteOrphans(ctx context.Context, durable DurableStore) (int, error) {
	ids, err := durable.IDs(ctx)
	if err != nil {
		return 0, err
	}
	mem := m.tiered.Memory()
	deleted := 0
	for _, id := range ids {
		if mem.Contains(id) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := durable.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
