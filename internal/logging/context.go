package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type taskCtxKey struct{}
type loggerCtxKey struct{}

// TaskRef identifies one execution attempt in log output.
type TaskRef struct {
	ID    string
	Round int
	Nonce string
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if ref, ok := TaskFromContext(ctx); ok {
		fields = append(fields,
			zap.String("task.id", ref.ID),
			zap.Int("task.round", ref.Round),
			zap.String("task.nonce", ref.Nonce),
		)
	}

	return fields
}

// WithRequestID adds a request ID to ctx. Empty IDs are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithTask adds task identity to ctx.
func WithTask(ctx context.Context, id string, round int, nonce string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, TaskRef{ID: id, Round: round, Nonce: nonce})
}

// TaskFromContext extracts task identity from ctx.
func TaskFromContext(ctx context.Context) (TaskRef, bool) {
	ref, ok := ctx.Value(taskCtxKey{}).(TaskRef)
	return ref, ok
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
