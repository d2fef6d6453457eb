// Package blob abstracts durable byte storage for chunk payloads and
// assembled objects. Backends: local disk and any S3-compatible endpoint.
package blob

import (
	"context"
	"fmt"
	"io"
)

// Store is keyed byte storage. Keys are slash-separated relative paths,
// e.g. "chunks/<session>/<idx>" or "objects/<fingerprint>".
type Store interface {
	// Put writes the full contents of r under key, replacing any previous
	// value.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the value under key for reading. The caller closes it.
	// Returns an error wrapping fs.ErrNotExist semantics of the backend
	// when the key is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the value under key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every value whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ChunkKey locates one uploaded chunk payload.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", sessionID, index)
}

// SessionPrefix covers all chunk payloads of one session.
func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("chunks/%s/", sessionID)
}

// ObjectKey locates an assembled, deduplicated object.
func ObjectKey(fingerprintHex string) string {
	return fmt.Sprintf("objects/%s/%s", fingerprintHex[:2], fingerprintHex)
}
