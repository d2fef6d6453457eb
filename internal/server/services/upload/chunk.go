package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/models"
)

// AcceptChunk validates and stores one chunk payload. It is idempotent for
// re-sends with an identical checksum and safe under concurrent calls for
// the same session. The returned count of accepted chunks lets the client
// track progress independently of its own bookkeeping.
func (s *Service) AcceptChunk(ctx context.Context, sessionID string, index int, payload []byte, checksum []byte) (int, error) {
	sess, err := s.getLiveSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	if index < 0 || index >= sess.TotalChunks {
		return 0, &common.PipelineError{Kind: common.KindValidation, Err: common.ErrInvalidIndex, Index: index}
	}
	if uint64(len(payload)) != chunkLength(sess, index) {
		return 0, &common.PipelineError{Kind: common.KindValidation, Err: common.ErrChecksumMismatch, Index: index}
	}

	computed := fingerprint.ChecksumBytes(payload)
	if !bytes.Equal(computed, checksum) {
		return 0, &common.PipelineError{Kind: common.KindValidation, Err: common.ErrChecksumMismatch, Index: index}
	}

	chunkRepo := s.repos.Chunks(s.db)

	existing, err := chunkRepo.Get(ctx, sessionID, index)
	switch {
	case err == nil:
		// A session is bound to one fingerprint: the same index with a
		// different checksum cannot be accepted early or late.
		if !bytes.Equal(existing.Checksum, computed) {
			return 0, &common.PipelineError{Kind: common.KindValidation, Err: common.ErrChecksumMismatch, Index: index}
		}
		// Harmless duplicate, ack with the current cardinality.
		return chunkRepo.Count(ctx, sessionID)
	case !errors.Is(err, common.ErrNotFound):
		return 0, err
	}

	// Payload first, bookkeeping second: a chunk row always implies stored
	// bytes.
	if err := s.blobs.Put(ctx, blob.ChunkKey(sessionID, index), bytes.NewReader(payload)); err != nil {
		return 0, fmt.Errorf("store chunk %d: %w", index, err)
	}
	if err := chunkRepo.Insert(ctx, &models.ChunkRecord{
		SessionID:  sessionID,
		Index:      index,
		ByteLength: uint64(len(payload)),
		Checksum:   computed,
	}); err != nil {
		return 0, err
	}

	if err := s.repos.Sessions(s.db).Touch(ctx, sessionID, now().Add(s.cfg.SessionTTL)); err != nil {
		s.logger.Warn(ctx, "session touch failed", "session", sessionID, "error", err.Error())
	}

	count, err := chunkRepo.Count(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	s.logger.Debug(ctx, "chunk accepted", "session", sessionID, "index", index, "accepted", count)
	return count, nil
}

// getLiveSession loads a session and rejects merged, evicted or expired ones.
func (s *Service) getLiveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.repos.Sessions(s.db).GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
		}
		return nil, err
	}
	if sess.State == models.SessionStateCompleted {
		return nil, common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
	}
	if sess.Expired(now()) {
		return nil, common.NewPipelineError(common.KindState, common.ErrSessionExpired)
	}
	return sess, nil
}

// chunkLength is the expected payload length for one index; only the last
// chunk may be shorter.
func chunkLength(sess *models.Session, index int) uint64 {
	if index == sess.TotalChunks-1 {
		if rem := sess.DeclaredSize % sess.ChunkSize; rem != 0 {
			return rem
		}
	}
	return sess.ChunkSize
}
