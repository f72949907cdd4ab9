// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SubjectKey contains the verified *identity.Subject for the request
	// Set by: middleware.SubjectMiddleware (pkg/middleware/subject.go)
	// Required by: decision endpoints, admin mutation endpoints
	SubjectKey Key = "subject"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID (pkg/middleware/requestid.go)
	// Used by: Logger, audit trail, distributed tracing
	RequestIDKey Key = "request_id"

	// RequestOriginKey contains the client IP for the request
	// Set by: middleware.SubjectMiddleware
	// Used by: audit trail request-origin field
	RequestOriginKey Key = "request_origin"
)

// WithSubject adds the verified subject to the context
func WithSubject(ctx context.Context, subject interface{}) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithRequestOrigin adds the client IP to the context
func WithRequestOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, RequestOriginKey, origin)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetRequestOrigin retrieves the client IP from context
func GetRequestOrigin(ctx context.Context) string {
	if origin, ok := ctx.Value(RequestOriginKey).(string); ok {
		return origin
	}
	return ""
}
