// Package requestctx carries request provenance through context.Context so the
// audit recorder can stamp entries without depending on net/http or gin.
package requestctx

import (
	"context"
	"time"
)

type (
	metadataKey    struct{}
	requestTimeKey struct{}
)

// Metadata is the provenance recorded on every audit entry.
type Metadata struct {
	RequestID string
	ClientIP  string
	UserAgent string
	SessionID string
}

// WithMetadata injects request metadata into ctx.
func WithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// FromContext returns the request metadata, or the zero value outside a request.
func FromContext(ctx context.Context) Metadata {
	if md, ok := ctx.Value(metadataKey{}).(Metadata); ok {
		return md
	}
	return Metadata{}
}

// WithSessionID sets the session id, keeping any other metadata already present.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	md := FromContext(ctx)
	md.SessionID = sessionID
	return WithMetadata(ctx, md)
}

// Now returns the request-scoped time, falling back to time.Now().
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request-scoped time. Mostly useful in tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
