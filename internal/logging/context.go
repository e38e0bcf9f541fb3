package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	requestCtxKey struct{}
	userCtxKey    struct{}
	jobCtxKey     struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("user.id", id))
	}
	if id := JobIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("job.id", id))
	}
	return fields
}

// WithRequestID adds the HTTP request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithUserID adds the acting user id to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return withString(ctx, userCtxKey{}, id)
}

// UserIDFromContext returns the user id or "".
func UserIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(userCtxKey{}).(string)
	return s
}

// WithJobID adds the crawl job id to ctx.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobCtxKey{}, id)
}

// JobIDFromContext returns the crawl job id or "".
func JobIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(jobCtxKey{}).(string)
	return s
}

// withString ignores empty values so callers can pass optional ids through.
func withString(ctx context.Context, key any, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
