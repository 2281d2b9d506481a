package requestctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ctdms/internal/requestctx"
)

func TestMetadata_RoundTrip(t *testing.T) {
	ctx := requestctx.WithMetadata(context.Background(), requestctx.Metadata{
		RequestID: "req-1",
		ClientIP:  "10.0.0.1",
		UserAgent: "curl/8.0",
	})
	ctx = requestctx.WithSessionID(ctx, "sess-9")

	md := requestctx.FromContext(ctx)
	assert.Equal(t, "req-1", md.RequestID)
	assert.Equal(t, "10.0.0.1", md.ClientIP)
	assert.Equal(t, "sess-9", md.SessionID)
}

func TestMetadata_Empty(t *testing.T) {
	assert.Equal(t, requestctx.Metadata{}, requestctx.FromContext(context.Background()))
}

func TestNow(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, requestctx.Now(requestctx.WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), requestctx.Now(context.Background()), time.Second)
}
