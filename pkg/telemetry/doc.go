// Package telemetry provides the observability stack of cloudplan:
// structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and run event fan-out.
//
// Telemetry implements engine.Instrumentation, so one value wires spans and
// metrics into the engine:
//
//	tel, err := telemetry.NewTelemetry(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng := engine.New(driver, backend,
//	    engine.WithInstrumentation(tel),
//	    engine.WithEventPublisher(tel.Events),
//	    engine.WithLogger(tel.Logger.NewComponentLogger("engine").Zerolog()),
//	)
//
// # Metrics
//
// Collectors live on a private registry, never the global one:
//
//   - runs_completed_total{mode,status} and run_duration_seconds{mode}
//   - units_total{kind,operation,status}
//   - provider_call_duration_seconds{kind,operation}
//   - unit_retries_total{kind}
//   - state_writes_total{result}
//
// Metrics.Serve exposes the registry over HTTP when a listen address is set.
//
// # Tracing
//
// Tracing is off by default. The stdout exporter pretty-prints spans and the
// otlp exporter ships them over gRPC. The engine opens spans named
// cloudplan.plan, cloudplan.run.apply, cloudplan.run.destroy and
// cloudplan.unit.apply.
//
// # Events
//
// EventPublisher delivers each engine event synchronously to subscribers
// (the CLI progress printer) and sinks (the SQLite run history), optionally
// filtered by level, type, run or resource.
package telemetry
