package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyJobID     contextKey = "job_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithJobID tags the context with the job being processed.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}
