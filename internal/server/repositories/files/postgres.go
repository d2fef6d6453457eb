package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// PostgresRepository implements file-record storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, f *models.File) error {
	query := `
		INSERT INTO files (file_id, owner_id, storage_id, name, parent_id, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.OwnerID, f.StorageID, f.Name, f.ParentID, f.Size, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT file_id, owner_id, storage_id, name, parent_id, size, created_at
		FROM files WHERE file_id = $1`

	var f models.File
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&f.ID, &f.OwnerID, &f.StorageID, &f.Name, &f.ParentID, &f.Size, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &f, nil
}
