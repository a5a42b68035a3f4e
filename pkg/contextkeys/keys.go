// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SubjectKey contains the authenticated principal's subject (the `sub`
	// claim of the verified access token).
	// Set by: gate.Gate after successful verification
	// Required by: the _authorize handler, request logging
	// Type: string
	SubjectKey Key = "subject"

	// RequestIDKey contains the request correlation id (UUID)
	// Set by: observability middleware
	// Used by: logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"
)

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, SubjectKey, sub)
}

// Subject retrieves the authenticated subject from the context, or "" when
// the request was never authenticated.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(SubjectKey).(string); ok {
		return sub
	}
	return ""
}

// WithRequestID adds the request correlation id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request correlation id from the context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
