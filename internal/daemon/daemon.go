// Package daemon hosts a long-running orchestrator: PID file, metrics and
// health endpoints, and signal-driven shutdown.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/conductor/internal/config"
	"github.com/harun/conductor/internal/observability"
	"github.com/harun/conductor/internal/tracing"
	"github.com/harun/conductor/pkg/orchestrator"
)

const shutdownTimeout = 30 * time.Second

// Daemon runs an orchestrator service until it is stopped
type Daemon struct {
	config    *config.Config
	logger    zerolog.Logger
	service   *orchestrator.Service
	lifecycle *LifecycleManager

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Status is a snapshot of the daemon state
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a daemon around a constructed service. The daemon takes
// ownership of the service and closes it on Stop.
func New(cfg *config.Config, svc *orchestrator.Service, logger zerolog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if svc == nil {
		return nil, errors.New("service is required")
	}

	observability.EnsureRegistered()

	logger = logger.With().Str("component", "daemon").Logger()
	return &Daemon{
		config:    cfg,
		logger:    logger,
		service:   svc,
		lifecycle: NewLifecycleManager(cfg.DataDir, logger),
	}, nil
}

// Start writes the PID file and opens the HTTP endpoint when metrics are enabled
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting Conductor daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Metrics.Enabled {
		if err := d.startServer(); err != nil {
			d.lifecycle.Stop()
			d.setStopped()
			return err
		}
		logger.Info().Str("address", d.listener.Addr().String()).Msg("Metrics endpoint started")
	}

	logger.Info().Msg("Daemon started")
	return nil
}

func (d *Daemon) startServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/health", d.handleHealth)

	listener, err := net.Listen("tcp", d.config.Metrics.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Metrics.Address, err)
	}
	d.listener = listener
	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics endpoint failed")
		}
	}()
	return nil
}

// Stop shuts the endpoint down, closes the service and removes the PID file
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping Conductor daemon")

	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics endpoint")
			errs = append(errs, err)
		}
		d.wg.Wait()
	}
	if err := d.service.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to close orchestrator")
		errs = append(errs, err)
	}
	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}

	logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

// Wait blocks until ctx ends or SIGINT/SIGTERM arrives, then stops the daemon
func (d *Daemon) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	d.logger.Info().Msg("Shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Addr returns the metrics endpoint address, or "" when it is disabled
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Service returns the hosted orchestrator
func (d *Daemon) Service() *orchestrator.Service {
	return d.service
}

// PIDFile returns the daemon's PID file path
func (d *Daemon) PIDFile() string {
	return d.lifecycle.PIDFile()
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// handleHealth reports uptime and cache occupancy
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := d.Status()
	stats := d.service.CacheStats()
	response := map[string]interface{}{
		"status":        "ok",
		"uptime":        status.Uptime.Seconds(),
		"tools":         len(d.service.Tools().List()),
		"strategies":    len(d.service.Engine().List()),
		"cache_entries": stats.Entries,
		"cache_bytes":   stats.TotalSizeBytes,
		"timestamp":     time.Now().UnixMilli(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
