package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Telemetry combines logging, tracing, metrics and events. It implements
// engine.Instrumentation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

var _ engine.Instrumentation = (*Telemetry)(nil)

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Events:  NewEventPublisher(),
		Config:  cfg,
	}, nil
}

// Shutdown flushes traces and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracer.Shutdown(ctx), t.Logger.Close())
}

// StartSpan implements engine.Instrumentation.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(err error)) {
	return t.Tracer.StartSpan(ctx, name, attrs)
}

// ObserveUnit implements engine.Instrumentation.
func (t *Telemetry) ObserveUnit(kind engine.ResourceKind, op engine.OperationType, status engine.NodeStatus, d time.Duration) {
	t.Metrics.RecordUnit(kind, op, status, d)
}

// ObserveRetry implements engine.Instrumentation.
func (t *Telemetry) ObserveRetry(kind engine.ResourceKind) {
	t.Metrics.RecordRetry(kind)
}

// ObserveStateWrite implements engine.Instrumentation.
func (t *Telemetry) ObserveStateWrite(err error) {
	t.Metrics.RecordStateWrite(err)
	if err != nil {
		t.Logger.zlog.Debug().Err(err).Msg("State write failed")
	}
}

// ObserveRun implements engine.Instrumentation.
func (t *Telemetry) ObserveRun(mode engine.PlanMode, status engine.RunStatus, d time.Duration) {
	t.Metrics.RecordRun(mode, status, d)
}
