// Package telemetry wires OpenTelemetry for docqa.
//
// Telemetry is off by default. When enabled, traces and metrics are exported
// over OTLP (gRPC or HTTP) and installed as the global providers, so
// instrumented packages can use otel.Tracer and otel.Meter directly.
package telemetry
