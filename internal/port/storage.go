package port

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object as reported by the storage backend.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// ObjectStorage abstracts the object store that holds version content. The
// service never moves file bytes itself; it only hands out presigned URLs and
// checks pointers.
type ObjectStorage interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}
