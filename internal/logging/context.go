package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Run identifies the run a log line belongs to.
type Run struct {
	ID     string
	Domain string
}

type runCtxKey struct{}
type loggerCtxKey struct{}

// WithRun attaches run correlation data to the context. Every stage of
// a run logs through a context carrying the same Run.
func WithRun(ctx context.Context, run Run) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

// RunFromContext extracts run correlation data, if any.
func RunFromContext(ctx context.Context) (Run, bool) {
	r, ok := ctx.Value(runCtxKey{}).(Run)
	return r, ok
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if run, ok := RunFromContext(ctx); ok {
		if run.ID != "" {
			fields = append(fields, zap.String("run.id", run.ID))
		}
		if run.Domain != "" {
			fields = append(fields, zap.String("run.domain", run.Domain))
		}
	}

	return fields
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
