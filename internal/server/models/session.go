// Package models defines server-side data models persisted in the database.
package models

import "time"

// SessionState tracks the lifecycle of an upload session.
type SessionState string

const (
	SessionStateInit      SessionState = "init"
	SessionStateMerging   SessionState = "merging"
	SessionStateCompleted SessionState = "completed"
)

// Session is the server-tracked record of in-progress chunk receipt for one
// upload attempt. One live session exists per (owner, fingerprint, size).
type Session struct {
	// ID is the server-assigned session identifier.
	ID string
	// OwnerID is the uploading user.
	OwnerID string
	// FingerprintHash is the sha256 of the full content being uploaded.
	FingerprintHash []byte
	// DeclaredSize is the total content length in bytes.
	DeclaredSize uint64
	// ChunkSize is the fixed chunk length; the last chunk may be shorter.
	ChunkSize uint64
	// TotalChunks is ceil(DeclaredSize / ChunkSize).
	TotalChunks int
	// Name and ParentID are remembered from the existence check so a merge
	// retry after client state loss can still commit.
	Name     string
	ParentID string

	// State is the session lifecycle state. State == completed implies the
	// received set covers [0, TotalChunks).
	State SessionState

	// FileID is set once the session has committed; re-merging a completed
	// session returns it unchanged.
	FileID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session's inactivity deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
