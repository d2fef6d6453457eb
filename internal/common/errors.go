// Package common defines shared constants and sentinel errors used across
// client and server layers. Callers should use errors.Is to match these
// values; PipelineError carries the structured detail.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Generic service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Fingerprinting / local file source errors.
	ErrRead = errors.New("read error")

	// Validation errors. Not retryable with the same payload.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidParent    = errors.New("invalid parent folder")
	ErrInvalidIndex     = errors.New("invalid chunk index")

	// Session state errors. The coordinator reacts by re-running the
	// existence check rather than retrying the failed call.
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionNotFound  = errors.New("session not found")
	ErrIncompleteUpload = errors.New("incomplete upload")

	// Resource errors. Terminal, never retried automatically.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Client-side scheduler error after retry exhaustion.
	ErrChunkUploadFailed = errors.New("chunk upload failed")
)
