package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the durable store for uploaded receipt images. Clients write
// through presigned URLs; the pipeline reads and deletes by key.
type ObjectStore interface {
	// PresignedPut returns a write location the client can upload bytes to.
	PresignedPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
