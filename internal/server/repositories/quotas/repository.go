package quotas

import (
	"context"

	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// Repository is the per-owner storage ledger. The upload pipeline is its
// exclusive writer; admission and commit both go through Charge so
// used_bytes can never overrun total_bytes even under concurrent merges.
type Repository interface {
	Get(ctx context.Context, ownerID string) (*models.Quota, error)
	// Provision creates a ledger row with the given allotment if the owner
	// has none yet.
	Provision(ctx context.Context, ownerID string, totalBytes uint64) error
	// Charge reserves n bytes atomically. Returns common.ErrQuotaExceeded
	// when the reservation would overrun the allotment.
	Charge(ctx context.Context, ownerID string, n uint64) error
}
