package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the subset of S3 operations the contest service uses to
// archive submitted sources.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader under objectKey.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// RemoveObjects deletes keys, ignoring ones that do not exist.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}
