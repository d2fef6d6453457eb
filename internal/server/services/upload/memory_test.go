package upload

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/chunks"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/files"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/quotas"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/sessions"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/storages"
)

// In-memory repositories used by service tests. The DBTX argument is ignored;
// every repo guards its map with a mutex so concurrency tests are meaningful.

type memRepos struct {
	sessions *memSessions
	chunks   *memChunks
	storages *memStorages
	files    *memFiles
	quotas   *memQuotas
}

func newMemRepos() *memRepos {
	return &memRepos{
		sessions: &memSessions{items: map[string]*models.Session{}},
		chunks:   &memChunks{items: map[string]map[int]*models.ChunkRecord{}},
		storages: &memStorages{items: map[string]*models.StorageObject{}},
		files:    &memFiles{items: map[string]*models.File{}},
		quotas:   &memQuotas{items: map[string]*models.Quota{}},
	}
}

func (m *memRepos) Sessions(dbx.DBTX) sessions.Repository { return m.sessions }
func (m *memRepos) Chunks(dbx.DBTX) chunks.Repository     { return m.chunks }
func (m *memRepos) Storages(dbx.DBTX) storages.Repository { return m.storages }
func (m *memRepos) Files(dbx.DBTX) files.Repository       { return m.files }
func (m *memRepos) Quotas(dbx.DBTX) quotas.Repository     { return m.quotas }

func (m *memRepos) RunMigrations(context.Context, *sql.DB) error { return nil }

type memSessions struct {
	mu    sync.Mutex
	items map[string]*models.Session
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	return &c
}

func (r *memSessions) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.ID] = cloneSession(s)
	return nil
}

func (r *memSessions) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *memSessions) FindLive(_ context.Context, ownerID string, hash []byte, size uint64) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if s.OwnerID == ownerID && string(s.FingerprintHash) == string(hash) &&
			s.DeclaredSize == size && s.State != models.SessionStateCompleted {
			return cloneSession(s), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memSessions) Touch(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return common.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (r *memSessions) MarkCompleted(_ context.Context, id, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return common.ErrNotFound
	}
	s.State = models.SessionStateCompleted
	s.FileID = fileID
	return nil
}

func (r *memSessions) SetState(_ context.Context, id string, state models.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return common.ErrNotFound
	}
	s.State = state
	return nil
}

func (r *memSessions) SelectExpired(_ context.Context, now time.Time) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.items {
		if s.ExpiresAt.Before(now) && s.State != models.SessionStateCompleted {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (r *memSessions) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

// setExpiresAt backdates a session for expiry tests.
func (r *memSessions) setExpiresAt(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[id]; ok {
		s.ExpiresAt = at
	}
}

type memChunks struct {
	mu    sync.Mutex
	items map[string]map[int]*models.ChunkRecord
}

func (r *memChunks) Get(_ context.Context, sessionID string, index int) (*models.ChunkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[sessionID][index]
	if !ok {
		return nil, common.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *memChunks) Insert(_ context.Context, c *models.ChunkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[c.SessionID] == nil {
		r.items[c.SessionID] = map[int]*models.ChunkRecord{}
	}
	if _, ok := r.items[c.SessionID][c.Index]; ok {
		return nil
	}
	cc := *c
	r.items[c.SessionID][c.Index] = &cc
	return nil
}

func (r *memChunks) Count(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items[sessionID]), nil
}

func (r *memChunks) Indices(_ context.Context, sessionID string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.items[sessionID]))
	for idx := range r.items[sessionID] {
		out = append(out, idx)
	}
	return out, nil
}

func (r *memChunks) DeleteBySession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, sessionID)
	return nil
}

type memStorages struct {
	mu    sync.Mutex
	items map[string]*models.StorageObject // keyed by storage id
}

func (r *memStorages) GetByFingerprint(_ context.Context, hash []byte) (*models.StorageObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if string(s.FingerprintHash) == string(hash) {
			ss := *s
			return &ss, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memStorages) Insert(_ context.Context, s *models.StorageObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss := *s
	r.items[s.ID] = &ss
	return nil
}

func (r *memStorages) IncrementRef(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return common.ErrNotFound
	}
	s.RefCount++
	return nil
}

func (r *memStorages) DecrementRef(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return common.ErrNotFound
	}
	if s.RefCount > 0 {
		s.RefCount--
	}
	return nil
}

func (r *memStorages) SelectUnreferenced(_ context.Context) ([]*models.StorageObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StorageObject
	for _, s := range r.items {
		if s.RefCount == 0 {
			ss := *s
			out = append(out, &ss)
		}
	}
	return out, nil
}

func (r *memStorages) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type memFiles struct {
	mu    sync.Mutex
	items map[string]*models.File
}

func (r *memFiles) Insert(_ context.Context, f *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ff := *f
	r.items[f.ID] = &ff
	return nil
}

func (r *memFiles) GetByID(_ context.Context, id string) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	ff := *f
	return &ff, nil
}

type memQuotas struct {
	mu    sync.Mutex
	items map[string]*models.Quota
}

func (r *memQuotas) Get(_ context.Context, ownerID string) (*models.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.items[ownerID]
	if !ok {
		return nil, common.ErrNotFound
	}
	qq := *q
	return &qq, nil
}

func (r *memQuotas) Provision(_ context.Context, ownerID string, totalBytes uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[ownerID]; !ok {
		r.items[ownerID] = &models.Quota{OwnerID: ownerID, TotalBytes: totalBytes}
	}
	return nil
}

func (r *memQuotas) Charge(_ context.Context, ownerID string, n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.items[ownerID]
	if !ok {
		return common.ErrNotFound
	}
	if q.UsedBytes+n > q.TotalBytes {
		return common.ErrQuotaExceeded
	}
	q.UsedBytes += n
	return nil
}
