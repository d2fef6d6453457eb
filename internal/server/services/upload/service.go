// Package upload implements the server side of the chunked-upload pipeline:
// admission/existence checks against the dedup index, idempotent chunk
// ingestion, and the transactional merge that turns a complete chunk set
// into a durable file record.
package upload

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/logging"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/repomanager"
)

// Config carries the fixed pipeline constants. Chunk size is agreed
// out-of-band with clients and never renegotiated per session.
type Config struct {
	ChunkSize         uint64
	SessionTTL        time.Duration
	DefaultQuotaBytes uint64
}

// ParentValidator checks that a target folder exists for an owner. The
// folder subsystem is an external collaborator; a nil validator accepts
// every parent id.
type ParentValidator interface {
	ValidateParent(ctx context.Context, ownerID, parentID string) error
}

// Service owns all mutation of sessions, the dedup index and the quota
// ledger. Safe for concurrent use.
type Service struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	blobs   blob.Store
	parents ParentValidator
	cfg     Config
	logger  logging.Logger

	commits keyedLocks
}

// NewService wires the upload service. parents may be nil.
func NewService(db *sql.DB, repos repomanager.RepositoryManager, blobs blob.Store, parents ParentValidator, cfg Config, logger logging.Logger) *Service {
	return &Service{
		db:      db,
		repos:   repos,
		blobs:   blobs,
		parents: parents,
		cfg:     cfg,
		logger:  logger.With("module", "upload_service"),
	}
}

// runTx is a seam so service tests can run without a real database.
var runTx = dbx.WithTx

// now is a seam for expiry tests.
var now = time.Now

// keyedLocks serializes commit paths per fingerprint so two owners finishing
// identical content concurrently cannot both assemble the bytes or corrupt
// ref counts. Entries are reclaimed once the last holder leaves.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
