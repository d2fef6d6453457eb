package storages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// PostgresRepository implements the dedup index over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprintHash []byte) (*models.StorageObject, error) {
	query := `SELECT storage_id, fingerprint, size, object_key, ref_count, created_at
		FROM storages WHERE fingerprint = $1`

	var s models.StorageObject
	err := r.db.QueryRowContext(ctx, query, fingerprintHash).
		Scan(&s.ID, &s.FingerprintHash, &s.Size, &s.ObjectKey, &s.RefCount, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, s *models.StorageObject) error {
	query := `
		INSERT INTO storages (storage_id, fingerprint, size, object_key, ref_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.FingerprintHash, s.Size, s.ObjectKey, s.RefCount, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IncrementRef(ctx context.Context, id string) error {
	query := `UPDATE storages SET ref_count = ref_count + 1 WHERE storage_id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) DecrementRef(ctx context.Context, id string) error {
	query := `UPDATE storages SET ref_count = ref_count - 1 WHERE storage_id = $1 AND ref_count > 0`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) SelectUnreferenced(ctx context.Context) ([]*models.StorageObject, error) {
	query := `SELECT storage_id, fingerprint, size, object_key, ref_count, created_at
		FROM storages WHERE ref_count = 0`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.StorageObject
	for rows.Next() {
		var s models.StorageObject
		if err := rows.Scan(&s.ID, &s.FingerprintHash, &s.Size, &s.ObjectKey, &s.RefCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM storages WHERE storage_id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
