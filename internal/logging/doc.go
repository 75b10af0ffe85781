// Package logging provides structured logging for mender.
//
// The Logger wraps Zap and adds:
//   - Automatic context fields (trace_id, span_id, request.id, error.source)
//   - Dual output to stdout and the OpenTelemetry log bridge
//   - Secret redaction at the encoder level
//   - Sampling below Error level
//
// Build a logger from the observability section of the mender config:
//
//	cfg, err := logging.FromObservability(appCfg.Observability)
//	logger, err := logging.NewLogger(cfg, otelLoggerProvider)
//	defer logger.Sync()
//
// Most packages accept a plain *zap.Logger; pass logger.Underlying() to them
// and call logging.ContextFields(ctx) when request correlation is wanted.
//
// Tests use NewTestLogger to observe and assert on emitted entries.
package logging
