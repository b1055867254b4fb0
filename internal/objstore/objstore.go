// Package objstore abstracts the object-storage operations the pipeline
// coordinates through. The S3 implementation is used by every Lambda; the
// in-memory implementation backs the protocol tests. Components receive a
// Store explicitly instead of sharing a process-wide client handle.
package objstore

import (
	"context"
)

// ObjectInfo describes the current head of an object.
type ObjectInfo struct {
	Key       string
	VersionID string
}

// Store is the narrow object-storage surface the orchestration protocol
// needs: data-plane transfer plus the zero-byte marker/signaling plane.
type Store interface {
	// PutMarker writes a zero-byte object. Overwriting an existing marker
	// is a no-op from the consumer's perspective.
	PutMarker(ctx context.Context, bucket, key string) error

	// Put writes body as the object's content.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// Get reads the full object content.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Download streams the object to localPath, creating parent directories.
	Download(ctx context.Context, bucket, key, localPath string) error

	// Upload streams the file at localPath to the object.
	Upload(ctx context.Context, bucket, key, localPath string) error

	// List returns all non-folder keys under prefix, following pagination
	// to the end. Keys ending in "/" (folder placeholders) are skipped.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Delete removes a single object. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, bucket, prefix string) error

	// Head reports whether the object exists and its latest version id.
	Head(ctx context.Context, bucket, key string) (ObjectInfo, bool, error)
}
