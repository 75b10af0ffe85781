// Package telemetry wires OpenTelemetry tracing and metrics for mender.
//
// New builds OTLP trace and metric providers (gRPC or HTTP/protobuf) and
// installs them globally so that packages calling otel.Tracer and
// otel.Meter pick them up. Export failures degrade the instance instead of
// failing startup.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
