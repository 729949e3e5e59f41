// Package logging provides structured logging for codereview.
//
// Logger wraps zap with context-aware methods. Every entry automatically
// carries the correlation fields found on the context:
//
//	trace_id, span_id   from the active OpenTelemetry span
//	run.id              set with WithRunID
//	review.target       set with WithTarget
//
// Entries are written to stderr (stdout carries the review report) and,
// when an OTEL LoggerProvider is supplied, through the otelzap bridge.
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithLogger(ctx, logger)
//	ctx = logging.WithTarget(ctx, "main.py")
//	logging.FromContext(ctx).Info(ctx, "review started")
//
// # Redaction
//
// The console encoder masks values under sensitive keys (api_key,
// authorization, ...) and any value or message matching the configured
// patterns (bearer tokens, sk- keys). Use Secret or RedactedString to log a
// credential's length only.
//
// # Sampling
//
// Rates are per level: Trace keeps 1 entry per tick, Debug 10, Info the
// first 100 then every 10th, Warn the first 100 then every 100th. Error and
// above are never sampled.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	ctx := tl.Context(context.Background())
//	// ... code under test logs via FromContext(ctx)
//	tl.AssertLogged(t, zapcore.WarnLevel, "stage failed")
package logging
