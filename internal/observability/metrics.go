package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolRetriesTotal      *prometheus.CounterVec
	toolsInFlight         prometheus.Gauge

	strategyRunTotal      *prometheus.CounterVec
	strategyRunDuration   *prometheus.HistogramVec
	strategyStepTotal     *prometheus.CounterVec
	strategySelectedTotal *prometheus.CounterVec

	cacheRequestsTotal   *prometheus.CounterVec
	cacheEvictionsTotal  prometheus.Counter
	cacheSizeBytes       prometheus.Gauge
	cacheEntries         prometheus.Gauge
	cacheCompressionRate prometheus.Gauge
	cacheMaintenanceRuns *prometheus.CounterVec

	recoveryAttemptsTotal *prometheus.CounterVec
	recoveryOutcomesTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_tool_execution_total",
					Help: "Total tool attempts by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "conductor_tool_execution_duration_seconds",
					Help:    "Tool attempt duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_tool_retries_total",
					Help: "Total tool retries by tool.",
				},
				[]string{"tool"},
			),
			toolsInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conductor_tools_in_flight",
					Help: "Tool handler invocations currently holding a concurrency permit.",
				},
			),
			strategyRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_strategy_run_total",
					Help: "Total strategy runs by strategy, mode and status.",
				},
				[]string{"strategy", "mode", "status"},
			),
			strategyRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "conductor_strategy_run_duration_seconds",
					Help:    "Strategy run duration in seconds by strategy.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"strategy"},
			),
			strategyStepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_strategy_step_total",
					Help: "Total step outcomes by strategy and outcome.",
				},
				[]string{"strategy", "outcome"},
			),
			strategySelectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_strategy_selected_total",
					Help: "Strategy selections by strategy (none when no strategy qualified).",
				},
				[]string{"strategy"},
			),
			cacheRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_cache_requests_total",
					Help: "Cache lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			cacheEvictionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conductor_cache_evictions_total",
					Help: "Total entries evicted from the in-memory cache.",
				},
			),
			cacheSizeBytes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conductor_cache_size_bytes",
					Help: "Current in-memory cache size in bytes.",
				},
			),
			cacheEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conductor_cache_entries",
					Help: "Current number of in-memory cache entries.",
				},
			),
			cacheCompressionRate: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conductor_cache_compression_ratio",
					Help: "Rolling compressed/original size ratio of compressed entries.",
				},
			),
			cacheMaintenanceRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_cache_maintenance_runs_total",
					Help: "Cache maintenance passes by status.",
				},
				[]string{"status"},
			),
			recoveryAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_recovery_attempts_total",
					Help: "Recovery attempts by error category.",
				},
				[]string{"category"},
			),
			recoveryOutcomesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conductor_recovery_outcomes_total",
					Help: "Recovery outcomes by error category and result.",
				},
				[]string{"category", "result"},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolRetriesTotal,
			m.toolsInFlight,
			m.strategyRunTotal,
			m.strategyRunDuration,
			m.strategyStepTotal,
			m.strategySelectedTotal,
			m.cacheRequestsTotal,
			m.cacheEvictionsTotal,
			m.cacheSizeBytes,
			m.cacheEntries,
			m.cacheCompressionRate,
			m.cacheMaintenanceRuns,
			m.recoveryAttemptsTotal,
			m.recoveryOutcomesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolRetry(tool string) {
	getMetrics().toolRetriesTotal.WithLabelValues(tool).Inc()
}

func AddToolsInFlight(delta int) {
	getMetrics().toolsInFlight.Add(float64(delta))
}

func RecordStrategyRun(strategy, mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.strategyRunTotal.WithLabelValues(strategy, mode, status(success)).Inc()
	m.strategyRunDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordStepOutcome counts a step outcome: success, error, skipped or retried.
func RecordStepOutcome(strategy, outcome string) {
	getMetrics().strategyStepTotal.WithLabelValues(strategy, outcome).Inc()
}

func RecordStrategySelection(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	getMetrics().strategySelectedTotal.WithLabelValues(strategy).Inc()
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	getMetrics().cacheRequestsTotal.WithLabelValues(result).Inc()
}

func RecordCacheEvictions(count int) {
	if count <= 0 {
		return
	}
	getMetrics().cacheEvictionsTotal.Add(float64(count))
}

func SetCacheSize(bytes int64, entries int) {
	m := getMetrics()
	m.cacheSizeBytes.Set(float64(bytes))
	m.cacheEntries.Set(float64(entries))
}

func SetCompressionRatio(ratio float64) {
	getMetrics().cacheCompressionRate.Set(ratio)
}

func RecordCacheMaintenance(success bool) {
	getMetrics().cacheMaintenanceRuns.WithLabelValues(status(success)).Inc()
}

func RecordRecoveryAttempt(category string) {
	getMetrics().recoveryAttemptsTotal.WithLabelValues(category).Inc()
}

func RecordRecoveryOutcome(category string, recovered bool) {
	result := "exhausted"
	if recovered {
		result = "recovered"
	}
	getMetrics().recoveryOutcomesTotal.WithLabelValues(category, result).Inc()
}
