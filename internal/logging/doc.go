// Package logging provides structured logging for docqa.
//
// Logger wraps Zap with:
//   - a Trace level (-2) below Debug for prompt and payload dumps
//   - stdout and optional OpenTelemetry output (otelzap bridge)
//   - automatic context fields (trace_id, span_id, session.id, request.id, document.id)
//   - key and value based secret redaction
//   - sampling below error level
//
// Usage:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "default")
//	logger.Info(ctx, "question answered", zap.Int("iterations", n))
//
// Components that take a *zap.Logger get one from Logger.Underlying.
//
// Tests use NewTestLogger and its assertion helpers.
package logging
