package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation fields from ctx: trace/span ids, the
// run id and the review target.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if target := TargetFromContext(ctx); target != "" {
		fields = append(fields, zap.String("review.target", target))
	}
	return fields
}

type runIDCtxKey struct{}
type targetCtxKey struct{}
type loggerCtxKey struct{}

const (
	maxIDLen     = 128
	maxTargetLen = 4096
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if !utf8.ValidString(target) {
		return fmt.Errorf("target contains invalid UTF-8")
	}
	if len(target) > maxTargetLen {
		return fmt.Errorf("target exceeds max length %d", maxTargetLen)
	}
	return nil
}

// WithRunID adds the run id to ctx. Panics if the id is empty or contains
// characters other than alphanumerics, hyphen and underscore.
func WithRunID(ctx context.Context, runID string) context.Context {
	if err := validateID(runID, "runID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTarget adds the reviewed file or snippet name to ctx. Panics if target
// is empty or not valid UTF-8.
func WithTarget(ctx context.Context, target string) context.Context {
	if err := validateTarget(target); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, targetCtxKey{}, target)
}

// TargetFromContext returns the review target, or "".
func TargetFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(targetCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
