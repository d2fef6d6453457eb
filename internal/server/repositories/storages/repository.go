package storages

import (
	"context"

	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// Repository is the dedup index: it maps content fingerprints to the single
// physical copy of the bytes and tracks how many file records reference it.
type Repository interface {
	GetByFingerprint(ctx context.Context, fingerprintHash []byte) (*models.StorageObject, error)
	Insert(ctx context.Context, s *models.StorageObject) error
	IncrementRef(ctx context.Context, id string) error
	DecrementRef(ctx context.Context, id string) error
	// SelectUnreferenced returns objects whose ref_count reached zero and
	// whose bytes may be reclaimed.
	SelectUnreferenced(ctx context.Context) ([]*models.StorageObject, error)
	Delete(ctx context.Context, id string) error
}
