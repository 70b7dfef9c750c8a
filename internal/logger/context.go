package logger

import "context"

// Request ids travel through the context so handlers and middleware can
// tag log records without threading an extra parameter.

type ctxKey struct{}

var requestIDKey ctxKey

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id, or "" when none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
