package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/codereview/internal/config"
)

func jsonLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Level = TraceLevel
	cfg.Sampling.Enabled = false
	cfg.Output.Writer = &buf
	if mutate != nil {
		mutate(cfg)
	}
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesJSONToWriter(t *testing.T) {
	logger, buf := jsonLogger(t, nil)

	logger.Info(context.Background(), "hello", zap.Int("n", 3))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "codereview", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["n"])
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_Levels(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := context.Background()

	logger.Trace(ctx, "t")
	logger.Debug(ctx, "d")
	logger.Info(ctx, "i")
	logger.Warn(ctx, "w")
	logger.Error(ctx, "e")

	entries := observed.All()
	require.Len(t, entries, 5)
	assert.Equal(t, TraceLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[4].Level)
}

func TestLogger_DisabledLevelSkipsWork(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Debug(context.Background(), "hidden")
	logger.Trace(context.Background(), "hidden")

	assert.Zero(t, observed.Len())
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("stage", "code_analyzer")).Named("pipeline")
	child.Info(context.Background(), "stage started")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	assert.Equal(t, "code_analyzer", entries[0].ContextMap()["stage"])
}

func TestLogger_InjectsContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithTarget(ctx, "pkg/main.py")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	tl.Info(ctx, "review started")

	fields := tl.All()[0].ContextMap()
	assert.Equal(t, "run-42", fields["run.id"])
	assert.Equal(t, "pkg/main.py", fields["review.target"])
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.Equal(t, true, fields["trace_sampled"])
}

func TestRedaction_KeysPatternsAndMessages(t *testing.T) {
	logger, buf := jsonLogger(t, nil)
	ctx := context.Background()

	logger.Info(ctx, "calling provider",
		zap.String("api_key", "sk-live-abcdefghijklmnopqrstuvwxyz"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("model", "claude"),
	)
	logger.Warn(ctx, "reply echoed sk-abcdefghijklmnopqrstuvwx back")
	logger.Error(ctx, "request failed", zap.Error(errors.New("auth Bearer xyz rejected")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)

	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED]", lines[0]["header"])
	assert.Equal(t, "claude", lines[0]["model"])
	assert.NotContains(t, lines[1]["msg"], "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, lines[2]["error"], "xyz")
}

func TestRedaction_Disabled(t *testing.T) {
	logger, buf := jsonLogger(t, func(c *Config) { c.Redaction.Enabled = false })

	logger.Info(context.Background(), "raw", zap.String("api_key", "visible"))

	lines := decodeLines(t, buf)
	assert.Equal(t, "visible", lines[0]["api_key"])
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "configured", Secret("api_key", config.Secret("sk-1234")))

	tl.AssertField(t, "configured", "api_key", "[REDACTED:7]")
}

func TestNewRedactingEncoder_RejectsBadPatterns(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{strings.Repeat("a", 201)}})
	assert.Error(t, err)
}
