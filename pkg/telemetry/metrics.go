package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Metrics holds the Prometheus collectors on a private registry. A nil
// *Metrics and a disabled one accept every call and record nothing.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	unitsApplied *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	unitRetries  *prometheus.CounterVec

	stateWrites *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs by mode and terminal status",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),

		unitsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Total number of finished plan units",
			},
			[]string{"kind", "operation", "status"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls per unit, retries included",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),
		unitRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_retries_total",
				Help:      "Total number of retried provider calls",
			},
			[]string{"kind"},
		),

		stateWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_writes_total",
				Help:      "Total number of state snapshot writes",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.unitsApplied,
		m.unitDuration,
		m.unitRetries,
		m.stateWrites,
	)
	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// RecordRun records a run that reached a terminal status.
func (m *Metrics) RecordRun(mode engine.PlanMode, status engine.RunStatus, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(string(mode), string(status)).Inc()
	m.runDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

// RecordUnit records a finished plan unit.
func (m *Metrics) RecordUnit(kind engine.ResourceKind, op engine.OperationType, status engine.NodeStatus, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.unitsApplied.WithLabelValues(string(kind), string(op), string(status)).Inc()
	if op != engine.OperationNoop {
		m.unitDuration.WithLabelValues(string(kind), string(op)).Observe(d.Seconds())
	}
}

// RecordRetry records one retried provider call.
func (m *Metrics) RecordRetry(kind engine.ResourceKind) {
	if !m.enabled() {
		return
	}
	m.unitRetries.WithLabelValues(string(kind)).Inc()
}

// RecordStateWrite records a state save. Conflicts are counted apart from
// other failures.
func (m *Metrics) RecordStateWrite(err error) {
	if !m.enabled() {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrStateConflict):
		result = "conflict"
	default:
		result = "error"
	}
	m.stateWrites.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the registry on the configured listen address until ctx is
// done. It returns once the listener is bound; serve errors are logged.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) (net.Addr, error) {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Debug().Str("addr", ln.Addr().String()).Str("path", path).Msg("Metrics server listening")
	return ln.Addr(), nil
}
