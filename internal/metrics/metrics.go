// Package metrics provides Prometheus metrics for monitoring stealthfetch.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels successful fetches; failures use their error kind.
const OutcomeOK = "ok"

var (
	// FetchesTotal counts fetches by outcome (ok, launch, network, navigation, fetch).
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealthfetch_fetches_total",
			Help: "Total number of fetches by outcome",
		},
		[]string{"outcome"},
	)

	// FetchDuration tracks fetch duration by outcome.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stealthfetch_fetch_duration_seconds",
			Help:    "Fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"outcome"},
	)

	// FetchStageFailures counts failures by the stage that was reached.
	FetchStageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealthfetch_fetch_stage_failures_total",
			Help: "Total fetch failures by last stage reached",
		},
		[]string{"stage"},
	)

	// RequestsTotal counts HTTP API requests by status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealthfetch_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"status"},
	)

	// SessionStarts counts browser session starts by result.
	SessionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealthfetch_session_starts_total",
			Help: "Total browser session starts by result",
		},
		[]string{"result"},
	)

	// ActiveSessions shows current live browser sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stealthfetch_active_sessions",
			Help: "Number of live browser sessions",
		},
	)

	// ProfileReloads counts stealth profile reloads by result.
	ProfileReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stealthfetch_profile_reloads_total",
			Help: "Total stealth profile reloads by result",
		},
		[]string{"result"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stealthfetch_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stealthfetch_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stealthfetch_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		FetchesTotal,
		FetchDuration,
		FetchStageFailures,
		RequestsTotal,
		SessionStarts,
		ActiveSessions,
		ProfileReloads,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates memory metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordFetch records a completed fetch. stage is ignored for successful fetches.
func RecordFetch(outcome, stage string, duration time.Duration) {
	FetchesTotal.WithLabelValues(outcome).Inc()
	FetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome != OutcomeOK && stage != "" {
		FetchStageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordRequest records a completed API request.
func RecordRequest(status string) {
	RequestsTotal.WithLabelValues(status).Inc()
}

// RecordSessionStart records a session start attempt.
func RecordSessionStart(err error) {
	if err != nil {
		SessionStarts.WithLabelValues("error").Inc()
		return
	}
	SessionStarts.WithLabelValues("ok").Inc()
	ActiveSessions.Inc()
}

// RecordSessionClose records a live session being closed.
func RecordSessionClose() {
	ActiveSessions.Dec()
}

// RecordProfileReload records a profile reload attempt.
func RecordProfileReload(err error) {
	if err != nil {
		ProfileReloads.WithLabelValues("error").Inc()
		return
	}
	ProfileReloads.WithLabelValues("ok").Inc()
}
