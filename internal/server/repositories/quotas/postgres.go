package quotas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// PostgresRepository implements the quota ledger over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (*models.Quota, error) {
	query := `SELECT owner_id, used_bytes, total_bytes FROM quotas WHERE owner_id = $1`

	var q models.Quota
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&q.OwnerID, &q.UsedBytes, &q.TotalBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &q, nil
}

func (r *PostgresRepository) Provision(ctx context.Context, ownerID string, totalBytes uint64) error {
	query := `
		INSERT INTO quotas (owner_id, used_bytes, total_bytes)
		VALUES ($1, 0, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, ownerID, totalBytes); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Charge reserves bytes with a single guarded UPDATE: the WHERE clause keeps
// used_bytes <= total_bytes under any interleaving, and zero affected rows
// means the reservation was refused.
func (r *PostgresRepository) Charge(ctx context.Context, ownerID string, n uint64) error {
	query := `
		UPDATE quotas SET used_bytes = used_bytes + $2
		WHERE owner_id = $1 AND used_bytes + $2 <= total_bytes
	`
	res, err := r.db.ExecContext(ctx, query, ownerID, n)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if affected == 0 {
		return common.ErrQuotaExceeded
	}
	return nil
}
