// Package metrics provides metrics collection and reporting for the
// traffic generation engine.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/example/shadowgen/internal/event"
)

// Prometheus metric names.
const (
	MetricEventsTotal           = "shadowgen_events_total"
	MetricJunkEventsTotal       = "shadowgen_junk_events_total"
	MetricAlertsTotal           = "shadowgen_alerts_total"
	MetricSessionsTotal         = "shadowgen_sessions_total"
	MetricBytesTotal            = "shadowgen_bytes_total"
	MetricActiveUsers           = "shadowgen_active_users"
	MetricHourGenerationSeconds = "shadowgen_hour_generation_seconds"
)

// PrometheusExporter exports generation progress to Prometheus via an
// HTTP endpoint so long-running simulations can be watched.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type PrometheusExporter struct {
	mu sync.RWMutex

	config PrometheusExporterConfig

	registry *prometheus.Registry

	eventsTotal           *prometheus.CounterVec
	junkEventsTotal       prometheus.Counter
	alertsTotal           *prometheus.CounterVec
	sessionsTotal         prometheus.Counter
	bytesTotal            *prometheus.CounterVec
	activeUsers           prometheus.Gauge
	hourGenerationSeconds prometheus.Histogram

	server *http.Server
	ln     net.Listener

	running   bool
	lastError error
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Port is the HTTP port for the metrics endpoint.
	// Default: 9090
	Port int

	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string

	// HistogramBuckets are the buckets for per-hour generation time.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Port == 0 {
		config.Port = 9090
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	// Own registry, no default process metrics
	registry := prometheus.NewRegistry()

	exporter := &PrometheusExporter{
		config:   config,
		registry: registry,
	}
	exporter.initMetrics()
	return exporter
}

// initMetrics initializes all Prometheus metrics.
func (e *PrometheusExporter) initMetrics() {
	e.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricEventsTotal,
			Help: "Total number of generated access events by outcome.",
		},
		[]string{"outcome"},
	)

	e.junkEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricJunkEventsTotal,
			Help: "Total number of generated background noise events.",
		},
	)

	e.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricAlertsTotal,
			Help: "Total number of emitted security alerts by kind.",
		},
		[]string{"kind"},
	)

	e.sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricSessionsTotal,
			Help: "Total number of instantiated sessions.",
		},
	)

	e.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricBytesTotal,
			Help: "Total synthesized transfer bytes by direction.",
		},
		[]string{"direction"},
	)

	e.activeUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricActiveUsers,
			Help: "Active users in the hour currently being generated.",
		},
	)

	e.hourGenerationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricHourGenerationSeconds,
			Help:    "Wall-clock time spent generating one simulated hour.",
			Buckets: e.config.HistogramBuckets,
		},
	)

	e.registry.MustRegister(
		e.eventsTotal,
		e.junkEventsTotal,
		e.alertsTotal,
		e.sessionsTotal,
		e.bytesTotal,
		e.activeUsers,
		e.hourGenerationSeconds,
	)
}

// Start starts the HTTP server for the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	addr := fmt.Sprintf(":%d", e.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop stops the HTTP server.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// RecordEvent records one emitted event.
func (e *PrometheusExporter) RecordEvent(ev *event.Event) {
	e.eventsTotal.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Junk {
		e.junkEventsTotal.Inc()
	}
	e.bytesTotal.WithLabelValues("in").Add(float64(ev.BytesIn))
	e.bytesTotal.WithLabelValues("out").Add(float64(ev.BytesOut))
}

// RecordAlert records one emitted alert.
func (e *PrometheusExporter) RecordAlert(a *event.Alert) {
	e.alertsTotal.WithLabelValues(string(a.Kind)).Inc()
}

// RecordSessions adds to the session counter.
func (e *PrometheusExporter) RecordSessions(n int) {
	e.sessionsTotal.Add(float64(n))
}

// UpdateActiveUsers updates the active users gauge.
func (e *PrometheusExporter) UpdateActiveUsers(n int) {
	e.activeUsers.Set(float64(n))
}

// ObserveHourGeneration records the wall-clock time one simulated hour
// took to generate.
func (e *PrometheusExporter) ObserveHourGeneration(d time.Duration) {
	e.hourGenerationSeconds.Observe(d.Seconds())
}

// GetAddress returns the full address for the metrics endpoint.
func (e *PrometheusExporter) GetAddress() string {
	return fmt.Sprintf("http://localhost:%d%s", e.config.Port, e.config.Path)
}

// IsRunning returns whether the exporter is running.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Registry returns the Prometheus registry (for testing).
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Gather collects all metrics from the registry (for testing).
func (e *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}
