package sessions

import (
	"context"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	// FindLive returns the non-completed session for (owner, fingerprint, size),
	// or common.ErrNotFound.
	FindLive(ctx context.Context, ownerID string, fingerprintHash []byte, declaredSize uint64) (*models.Session, error)
	// Touch extends the inactivity deadline.
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// MarkCompleted transitions the session to completed and records the
	// resulting file id.
	MarkCompleted(ctx context.Context, id string, fileID string) error
	SetState(ctx context.Context, id string, state models.SessionState) error
	// SelectExpired returns sessions whose deadline passed before now,
	// excluding completed ones.
	SelectExpired(ctx context.Context, now time.Time) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
}
