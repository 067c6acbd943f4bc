package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context keys for correlation
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request-id"

	// PassIDKey is the context key for the monitoring pass ID
	PassIDKey contextKey = "pass-id"

	// CircleIDKey is the context key for the circle being evaluated
	CircleIDKey contextKey = "circle-id"
)

// Header keys for HTTP propagation
const (
	RequestIDHeader = "X-Request-ID"
	PassIDHeader    = "X-Pass-ID"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPassID adds a pass ID to the context
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, PassIDKey, passID)
}

// GetPassID retrieves the pass ID from the context
func GetPassID(ctx context.Context) string {
	if id, ok := ctx.Value(PassIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCircleID adds a circle ID to the context
func WithCircleID(ctx context.Context, circleID string) context.Context {
	return context.WithValue(ctx, CircleIDKey, circleID)
}

// GetCircleID retrieves the circle ID from the context
func GetCircleID(ctx context.Context) string {
	if id, ok := ctx.Value(CircleIDKey).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID generates a new request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextLogger returns a logger with correlation IDs from context
func ContextLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := []zap.Field{}

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if passID := GetPassID(ctx); passID != "" {
		fields = append(fields, zap.String("pass_id", passID))
	}

	if circleID := GetCircleID(ctx); circleID != "" {
		fields = append(fields, zap.String("circle", circleID))
	}

	// Add trace ID if available
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		fields = append(fields, zap.String("trace_id", span.SpanContext().TraceID().String()))
		fields = append(fields, zap.String("span_id", span.SpanContext().SpanID().String()))
	}

	return logger.With(fields...)
}

// RequestIDMiddleware takes the request ID from the incoming header, or
// generates one, and makes it available to handlers and the response
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// InjectHeaders copies correlation IDs from ctx onto an outgoing request
func InjectHeaders(ctx context.Context, req *http.Request) {
	if requestID := GetRequestID(ctx); requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	if passID := GetPassID(ctx); passID != "" {
		req.Header.Set(PassIDHeader, passID)
	}
}
