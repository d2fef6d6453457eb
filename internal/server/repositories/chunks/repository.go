package chunks

import (
	"context"

	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

type Repository interface {
	// Get returns the record for (sessionID, index) or common.ErrNotFound.
	Get(ctx context.Context, sessionID string, index int) (*models.ChunkRecord, error)
	// Insert records an accepted chunk. Inserting an index that is already
	// present is a no-op (write-once semantics are enforced by the caller
	// comparing checksums first).
	Insert(ctx context.Context, c *models.ChunkRecord) error
	// Count returns how many chunks the session has accepted.
	Count(ctx context.Context, sessionID string) (int, error)
	// Indices returns the accepted chunk indices in ascending order.
	Indices(ctx context.Context, sessionID string) ([]int, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}
