package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// CheckResult is the outcome of an existence/admission check.
type CheckResult struct {
	// Complete means identical content already exists; FileID references the
	// freshly committed record and no bytes need to be transferred.
	Complete bool
	FileID   string

	// Otherwise a session is live and the client should upload exactly the
	// missing chunk indices.
	SessionID     string
	ChunkSize     uint64
	TotalChunks   int
	MissingChunks []int
}

// CheckExistence implements upload admission. On a dedup hit the reference
// is committed immediately (ref count increment, file record, ledger charge)
// and the instant-completion result is returned; otherwise a session is
// found or created and the still-missing chunk indices are reported.
func (s *Service) CheckExistence(ctx context.Context, ownerID string, fp fingerprint.Fingerprint, name, parentID string) (*CheckResult, error) {
	if err := s.repos.Quotas(s.db).Provision(ctx, ownerID, s.cfg.DefaultQuotaBytes); err != nil {
		return nil, err
	}

	_, err := s.repos.Storages(s.db).GetByFingerprint(ctx, fp.Hash)
	switch {
	case err == nil:
		return s.commitReference(ctx, ownerID, fp, name, parentID)
	case errors.Is(err, common.ErrNotFound):
		return s.findOrCreateSession(ctx, ownerID, fp, name, parentID)
	default:
		return nil, err
	}
}

// commitReference is the instant-upload path: no bytes move, but the
// reference still needs admission against the owner's ledger.
func (s *Service) commitReference(ctx context.Context, ownerID string, fp fingerprint.Fingerprint, name, parentID string) (*CheckResult, error) {
	if err := s.validateParent(ctx, ownerID, parentID); err != nil {
		return nil, err
	}

	unlock := s.commits.lock(fp.HexHash())
	defer unlock()

	fileID := uuid.NewString()
	var staleSession *models.Session

	err := runTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		storage, err := s.repos.Storages(tx).GetByFingerprint(ctx, fp.Hash)
		if err != nil {
			// The object vanished between the unlocked peek and the lock
			// (sweeper reclaimed a zero-ref copy). Fall back to a session.
			return err
		}

		if err := s.repos.Quotas(tx).Charge(ctx, ownerID, fp.DeclaredSize); err != nil {
			return err
		}
		if err := s.repos.Storages(tx).IncrementRef(ctx, storage.ID); err != nil {
			return err
		}
		if err := s.repos.Files(tx).Insert(ctx, &models.File{
			ID:        fileID,
			OwnerID:   ownerID,
			StorageID: storage.ID,
			Name:      name,
			ParentID:  parentID,
			Size:      fp.DeclaredSize,
			CreatedAt: now(),
		}); err != nil {
			return err
		}

		// A live session for the same content is now pointless; complete it
		// so a later merge retry resolves to the same file.
		sess, err := s.repos.Sessions(tx).FindLive(ctx, ownerID, fp.Hash, fp.DeclaredSize)
		switch {
		case err == nil:
			staleSession = sess
			return s.repos.Sessions(tx).MarkCompleted(ctx, sess.ID, fileID)
		case errors.Is(err, common.ErrNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		if errors.Is(err, common.ErrQuotaExceeded) {
			return nil, common.NewPipelineError(common.KindResource, common.ErrQuotaExceeded)
		}
		if errors.Is(err, common.ErrNotFound) {
			return s.findOrCreateSession(ctx, ownerID, fp, name, parentID)
		}
		return nil, fmt.Errorf("commit reference: %w", err)
	}

	if staleSession != nil {
		s.releaseChunks(ctx, staleSession.ID)
	}

	s.logger.Info(ctx, "instant completion", "owner", ownerID, "fingerprint", fp.HexHash(), "file", fileID)
	return &CheckResult{Complete: true, FileID: fileID}, nil
}

func (s *Service) findOrCreateSession(ctx context.Context, ownerID string, fp fingerprint.Fingerprint, name, parentID string) (*CheckResult, error) {
	// Admission: refuse to open a session the ledger can never accept.
	quota, err := s.repos.Quotas(s.db).Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if fp.DeclaredSize > quota.Remaining() {
		return nil, common.NewPipelineError(common.KindResource, common.ErrQuotaExceeded)
	}

	sessRepo := s.repos.Sessions(s.db)

	sess, err := sessRepo.FindLive(ctx, ownerID, fp.Hash, fp.DeclaredSize)
	switch {
	case err == nil:
		if sess.Expired(now()) {
			if err := s.evictSession(ctx, sess.ID); err != nil {
				return nil, err
			}
			return s.createSession(ctx, ownerID, fp, name, parentID)
		}
		return s.resumeSession(ctx, sess)
	case errors.Is(err, common.ErrNotFound):
		return s.createSession(ctx, ownerID, fp, name, parentID)
	default:
		return nil, err
	}
}

func (s *Service) createSession(ctx context.Context, ownerID string, fp fingerprint.Fingerprint, name, parentID string) (*CheckResult, error) {
	sess := &models.Session{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		FingerprintHash: fp.Hash,
		DeclaredSize:    fp.DeclaredSize,
		ChunkSize:       s.cfg.ChunkSize,
		TotalChunks:     totalChunks(fp.DeclaredSize, s.cfg.ChunkSize),
		Name:            name,
		ParentID:        parentID,
		State:           models.SessionStateInit,
		CreatedAt:       now(),
		ExpiresAt:       now().Add(s.cfg.SessionTTL),
	}
	if err := s.repos.Sessions(s.db).Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	missing := make([]int, sess.TotalChunks)
	for i := range missing {
		missing[i] = i
	}

	s.logger.Info(ctx, "session created", "owner", ownerID, "session", sess.ID, "chunks", sess.TotalChunks)
	return &CheckResult{
		SessionID:     sess.ID,
		ChunkSize:     sess.ChunkSize,
		TotalChunks:   sess.TotalChunks,
		MissingChunks: missing,
	}, nil
}

func (s *Service) resumeSession(ctx context.Context, sess *models.Session) (*CheckResult, error) {
	if err := s.repos.Sessions(s.db).Touch(ctx, sess.ID, now().Add(s.cfg.SessionTTL)); err != nil {
		return nil, err
	}

	have, err := s.repos.Chunks(s.db).Indices(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	missing := missingIndices(sess.TotalChunks, have)

	s.logger.Info(ctx, "session resumed", "session", sess.ID, "missing", len(missing))
	return &CheckResult{
		SessionID:     sess.ID,
		ChunkSize:     sess.ChunkSize,
		TotalChunks:   sess.TotalChunks,
		MissingChunks: missing,
	}, nil
}

func (s *Service) validateParent(ctx context.Context, ownerID, parentID string) error {
	if s.parents == nil {
		return nil
	}
	if err := s.parents.ValidateParent(ctx, ownerID, parentID); err != nil {
		return common.NewPipelineError(common.KindValidation, common.ErrInvalidParent)
	}
	return nil
}

// evictSession drops an expired session with its chunk bookkeeping and
// payloads.
func (s *Service) evictSession(ctx context.Context, sessionID string) error {
	s.releaseChunks(ctx, sessionID)
	if err := s.repos.Chunks(s.db).DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	return s.repos.Sessions(s.db).Delete(ctx, sessionID)
}

// releaseChunks reclaims chunk payload blobs, best effort.
func (s *Service) releaseChunks(ctx context.Context, sessionID string) {
	if err := s.blobs.DeletePrefix(ctx, blob.SessionPrefix(sessionID)); err != nil {
		s.logger.Warn(ctx, "chunk blob cleanup failed", "session", sessionID, "error", err.Error())
	}
}

func totalChunks(declaredSize, chunkSize uint64) int {
	if declaredSize == 0 {
		return 0
	}
	return int((declaredSize + chunkSize - 1) / chunkSize)
}

func missingIndices(total int, have []int) []int {
	present := make(map[int]struct{}, len(have))
	for _, idx := range have {
		present[idx] = struct{}{}
	}
	missing := make([]int, 0, total-len(have))
	for i := 0; i < total; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}
