// Package telemetry provides OpenTelemetry instrumentation for redactd.
//
// It manages the tracer and meter providers and exports to an OTEL collector
// over OTLP (gRPC or HTTP). Detection engines, the scheduler, and the
// admission controller obtain meters from here for their per-package metrics.
//
// Telemetry failures never crash the service: if a provider cannot be
// initialized the instance degrades to no-op providers and records the
// degraded state for the status endpoint.
//
// Use TestTelemetry with in-memory exporters in tests:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "detect")
//	span.End()
//	tt.AssertSpanExists(t, "detect")
package telemetry
