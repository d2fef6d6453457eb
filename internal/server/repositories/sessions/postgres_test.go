package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func sessionRows(s *models.Session) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"session_id", "owner_id", "fingerprint", "declared_size", "chunk_size",
		"total_chunks", "name", "parent_id", "state", "file_id", "created_at", "expires_at",
	}).AddRow(s.ID, s.OwnerID, s.FingerprintHash, s.DeclaredSize, s.ChunkSize,
		s.TotalChunks, s.Name, s.ParentID, s.State, s.FileID, s.CreatedAt, s.ExpiresAt)
}

func sampleSession() *models.Session {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:              "sess-1",
		OwnerID:         "u1",
		FingerprintHash: []byte{0xde, 0xad},
		DeclaredSize:    1024,
		ChunkSize:       256,
		TotalChunks:     4,
		Name:            "report.pdf",
		ParentID:        "root",
		State:           models.SessionStateInit,
		CreatedAt:       now,
		ExpiresAt:       now.Add(24 * time.Hour),
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	s := sampleSession()

	mock.ExpectExec(`INSERT INTO upload_sessions`).
		WithArgs(s.ID, s.OwnerID, s.FingerprintHash, s.DeclaredSize, s.ChunkSize,
			s.TotalChunks, s.Name, s.ParentID, s.State, s.CreatedAt, s.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByID_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	s := sampleSession()

	mock.ExpectQuery(`SELECT .* FROM upload_sessions WHERE session_id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(sessionRows(s))

	got, err := repo.GetByID(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != s.ID || got.TotalChunks != s.TotalChunks || got.State != s.State {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM upload_sessions WHERE session_id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFindLive_ExcludesCompleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	s := sampleSession()

	q := regexp.MustCompile(`SELECT .* FROM upload_sessions\s+WHERE owner_id = \$1 AND fingerprint = \$2 AND declared_size = \$3 AND state <> 'completed'`)

	mock.ExpectQuery(q.String()).
		WithArgs("u1", s.FingerprintHash, s.DeclaredSize).
		WillReturnRows(sessionRows(s))

	got, err := repo.FindLive(context.Background(), "u1", s.FingerprintHash, s.DeclaredSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "sess-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestMarkCompleted_UnknownSession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE upload_sessions SET state = 'completed', file_id = \$2 WHERE session_id = \$1`).
		WithArgs("ghost", "file-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "ghost", "file-1")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSelectExpired_ReturnsRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	s := sampleSession()
	now := s.ExpiresAt.Add(time.Hour)

	mock.ExpectQuery(`SELECT .* FROM upload_sessions\s+WHERE expires_at < \$1 AND state <> 'completed'`).
		WithArgs(now).
		WillReturnRows(sessionRows(s))

	got, err := repo.SelectExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sess-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestDelete_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM upload_sessions WHERE session_id = \$1`).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
