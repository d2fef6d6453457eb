package chunks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// PostgresRepository implements chunk bookkeeping over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, sessionID string, index int) (*models.ChunkRecord, error) {
	query := `SELECT session_id, idx, byte_length, checksum FROM upload_chunks
		WHERE session_id = $1 AND idx = $2`

	var c models.ChunkRecord
	err := r.db.QueryRowContext(ctx, query, sessionID, index).
		Scan(&c.SessionID, &c.Index, &c.ByteLength, &c.Checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, c *models.ChunkRecord) error {
	query := `
		INSERT INTO upload_chunks (session_id, idx, byte_length, checksum)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, idx) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, c.SessionID, c.Index, c.ByteLength, c.Checksum); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT count(*) FROM upload_chunks WHERE session_id = $1`

	var n int
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Indices(ctx context.Context, sessionID string) ([]int, error) {
	query := `SELECT idx FROM upload_chunks WHERE session_id = $1 ORDER BY idx`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		result = append(result, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	query := `DELETE FROM upload_chunks WHERE session_id = $1`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
