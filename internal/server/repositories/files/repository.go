package files

import (
	"context"

	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, f *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
}
