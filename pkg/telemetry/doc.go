// Package telemetry provides the observability stack for hostgate.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value built
// from configuration:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components take a zerolog.Logger, an optional *Metrics and a trace.Tracer:
//
//	logger := tel.Logger.NewComponentLogger("coordinator").Zerolog()
//	coord := engine.NewCoordinator(store, client, engine.Options{
//	    Logger:  logger,
//	    Metrics: tel.Metrics,
//	    Tracer:  tel.Tracer.OTel(),
//	})
//
// # Metrics
//
// Every *Metrics method is a no-op on a nil receiver or when metrics are
// disabled. Metrics are exposed via HTTP at /metrics by StartMetricsServer.
//
// # Tracing
//
// Each coordinated operation gets one span (StartOperationSpan). Phase
// transitions are recorded as span events with AddPhaseEvent.
//
// Supported exporters: otlp (gRPC), stdout and none.
package telemetry
