package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// Merge turns a complete chunk set into a durable file record. The commit is
// transactional, serialized per fingerprint, and idempotent: retrying a
// merge on an already-completed session returns the same file id without
// charging the ledger twice.
func (s *Service) Merge(ctx context.Context, sessionID, name, parentID string) (string, error) {
	sess, err := s.repos.Sessions(s.db).GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
		}
		return "", err
	}
	if sess.State == models.SessionStateCompleted {
		return sess.FileID, nil
	}
	if sess.Expired(now()) {
		return "", common.NewPipelineError(common.KindState, common.ErrSessionExpired)
	}

	have, err := s.repos.Chunks(s.db).Indices(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if missing := missingIndices(sess.TotalChunks, have); len(missing) > 0 {
		return "", &common.PipelineError{Kind: common.KindState, Err: common.ErrIncompleteUpload, Index: -1, Missing: missing}
	}

	if name == "" {
		name = sess.Name
	}
	if parentID == "" {
		parentID = sess.ParentID
	}
	if err := s.validateParent(ctx, sess.OwnerID, parentID); err != nil {
		return "", err
	}

	fp := fingerprint.Fingerprint{Hash: sess.FingerprintHash, DeclaredSize: sess.DeclaredSize}

	// Serialize per fingerprint: two owners finishing identical content
	// concurrently must end up with one physical copy and two references,
	// and a timed-out retry of the same session must not replay a commit
	// that already landed.
	unlock := s.commits.lock(fp.HexHash())
	defer unlock()

	// Everything observed before the lock may predate a concurrent merge
	// of this very session. Re-load and re-check: a committed winner left
	// the session COMPLETED and its chunk rows reclaimed, so the replay
	// must answer with the winner's file id, not a second commit.
	sess, err = s.repos.Sessions(s.db).GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
		}
		return "", err
	}
	if sess.State == models.SessionStateCompleted {
		return sess.FileID, nil
	}
	if sess.Expired(now()) {
		return "", common.NewPipelineError(common.KindState, common.ErrSessionExpired)
	}
	have, err = s.repos.Chunks(s.db).Indices(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if missing := missingIndices(sess.TotalChunks, have); len(missing) > 0 {
		return "", &common.PipelineError{Kind: common.KindState, Err: common.ErrIncompleteUpload, Index: -1, Missing: missing}
	}

	if err := s.repos.Sessions(s.db).SetState(ctx, sessionID, models.SessionStateMerging); err != nil {
		return "", err
	}

	// Leave the session in its last-acknowledged state on any failure past
	// this point so the client can retry or resume; merging is not a
	// terminal state.
	revert := func(cause error) (string, error) {
		if stateErr := s.repos.Sessions(s.db).SetState(ctx, sessionID, models.SessionStateInit); stateErr != nil {
			s.logger.Warn(ctx, "session state rollback failed", "session", sessionID, "error", stateErr.Error())
		}
		return "", cause
	}

	objectKey := blob.ObjectKey(fp.HexHash())

	_, err = s.repos.Storages(s.db).GetByFingerprint(ctx, fp.Hash)
	switch {
	case err == nil:
		// A concurrent upload of identical content already assembled the
		// bytes; only reference bookkeeping remains.
	case errors.Is(err, common.ErrNotFound):
		if err := s.assembleObject(ctx, sess, objectKey, fp); err != nil {
			return revert(err)
		}
	default:
		return revert(err)
	}

	fileID := uuid.NewString()
	err = runTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Quotas(tx).Charge(ctx, sess.OwnerID, fp.DeclaredSize); err != nil {
			return err
		}

		storageRepo := s.repos.Storages(tx)

		storage, err := storageRepo.GetByFingerprint(ctx, fp.Hash)
		switch {
		case err == nil:
			if err := storageRepo.IncrementRef(ctx, storage.ID); err != nil {
				return err
			}
		case errors.Is(err, common.ErrNotFound):
			storage = &models.StorageObject{
				ID:              uuid.NewString(),
				FingerprintHash: fp.Hash,
				Size:            fp.DeclaredSize,
				ObjectKey:       objectKey,
				RefCount:        1,
				CreatedAt:       now(),
			}
			if err := storageRepo.Insert(ctx, storage); err != nil {
				return err
			}
		default:
			return err
		}

		if err := s.repos.Files(tx).Insert(ctx, &models.File{
			ID:        fileID,
			OwnerID:   sess.OwnerID,
			StorageID: storage.ID,
			Name:      name,
			ParentID:  parentID,
			Size:      fp.DeclaredSize,
			CreatedAt: now(),
		}); err != nil {
			return err
		}
		return s.repos.Sessions(tx).MarkCompleted(ctx, sessionID, fileID)
	})
	if err != nil {
		if errors.Is(err, common.ErrQuotaExceeded) {
			return revert(common.NewPipelineError(common.KindResource, common.ErrQuotaExceeded))
		}
		return revert(fmt.Errorf("merge commit: %w", err))
	}

	// Chunk bookkeeping can be reclaimed now that assembly is durable.
	if err := s.repos.Chunks(s.db).DeleteBySession(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "chunk bookkeeping cleanup failed", "session", sessionID, "error", err.Error())
	}
	s.releaseChunks(ctx, sessionID)

	s.logger.Info(ctx, "merge completed", "session", sessionID, "file", fileID, "fingerprint", fp.HexHash())
	return fileID, nil
}

// assembleObject concatenates the session's chunks in index order into the
// content-addressed object, verifying the result against the session
// fingerprint before it becomes visible.
func (s *Service) assembleObject(ctx context.Context, sess *models.Session, objectKey string, fp fingerprint.Fingerprint) error {
	hasher := sha256.New()
	pr, pw := io.Pipe()

	go func() {
		for i := 0; i < sess.TotalChunks; i++ {
			rc, err := s.blobs.Get(ctx, blob.ChunkKey(sess.ID, i))
			if err != nil {
				pw.CloseWithError(fmt.Errorf("read chunk %d: %w", i, err))
				return
			}
			_, err = io.Copy(io.MultiWriter(pw, hasher), rc)
			rc.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("copy chunk %d: %w", i, err))
				return
			}
		}
		pw.Close()
	}()

	if err := s.blobs.Put(ctx, objectKey, pr); err != nil {
		return fmt.Errorf("assemble object: %w", err)
	}

	if !bytes.Equal(hasher.Sum(nil), fp.Hash) {
		// Stored chunks do not add up to the declared content; drop the
		// bogus object and make the client restart from the check step.
		if err := s.blobs.Delete(ctx, objectKey); err != nil {
			s.logger.Warn(ctx, "bogus object cleanup failed", "key", objectKey, "error", err.Error())
		}
		return common.NewPipelineError(common.KindValidation, common.ErrChecksumMismatch)
	}
	return nil
}
