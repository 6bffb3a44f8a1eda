package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the inbound request ID
	RequestIDKey ContextKey = "request_id"
	// SessionNameKey is the context key for the chat session name
	SessionNameKey ContextKey = "session"
	// ProviderKey is the context key for the model provider name
	ProviderKey ContextKey = "provider"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	RequestID   string
	SessionName string
	Provider    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSessionName adds a session name to the context
func WithSessionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, SessionNameKey, name)
}

// WithProvider adds a model provider name to the context
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetSessionName retrieves the session name from the context
func GetSessionName(ctx context.Context) string {
	return stringValue(ctx, SessionNameKey)
}

// GetProvider retrieves the provider name from the context
func GetProvider(ctx context.Context) string {
	return stringValue(ctx, ProviderKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RequestID:   GetRequestID(ctx),
		SessionName: GetSessionName(ctx),
		Provider:    GetProvider(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.SessionName != "" {
		ctx = WithSessionName(ctx, tc.SessionName)
	}
	if tc.Provider != "" {
		ctx = WithProvider(ctx, tc.Provider)
	}
	return ctx
}

// NewRequestContext creates a context for an inbound request with fresh trace and request IDs.
// An existing trace ID is kept.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithRequestID(ctx, NewRequestID())
}
