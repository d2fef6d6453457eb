package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// PostgresRepository implements session storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO upload_sessions
			(session_id, owner_id, fingerprint, declared_size, chunk_size, total_chunks, name, parent_id, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.OwnerID, s.FingerprintHash, s.DeclaredSize, s.ChunkSize,
		s.TotalChunks, s.Name, s.ParentID, s.State, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, owner_id, fingerprint, declared_size, chunk_size, total_chunks, name, parent_id, state, COALESCE(file_id::text, ''), created_at, expires_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.OwnerID, &s.FingerprintHash, &s.DeclaredSize,
		&s.ChunkSize, &s.TotalChunks, &s.Name, &s.ParentID, &s.State,
		&s.FileID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE session_id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) FindLive(ctx context.Context, ownerID string, fingerprintHash []byte, declaredSize uint64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE owner_id = $1 AND fingerprint = $2 AND declared_size = $3 AND state <> 'completed'`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, ownerID, fingerprintHash, declaredSize))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	query := `UPDATE upload_sessions SET expires_at = $2 WHERE session_id = $1`
	return r.execOne(ctx, query, id, expiresAt)
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, fileID string) error {
	query := `UPDATE upload_sessions SET state = 'completed', file_id = $2 WHERE session_id = $1`
	return r.execOne(ctx, query, id, fileID)
}

func (r *PostgresRepository) SetState(ctx context.Context, id string, state models.SessionState) error {
	query := `UPDATE upload_sessions SET state = $2 WHERE session_id = $1`
	return r.execOne(ctx, query, id, state)
}

func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE expires_at < $1 AND state <> 'completed'`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM upload_sessions WHERE session_id = $1`
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
