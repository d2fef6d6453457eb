package models

import "time"

// StorageObject is one physical copy of content, keyed by fingerprint.
// Multiple File records may reference the same object; RefCount tracks
// them and the bytes are reclaimed only when it reaches zero.
type StorageObject struct {
	ID              string
	FingerprintHash []byte
	Size            uint64
	// ObjectKey locates the assembled bytes in the blob store.
	ObjectKey string
	RefCount  int
	CreatedAt time.Time
}

// File is a user-visible file record created by a successful merge or by
// instant completion.
type File struct {
	ID        string
	OwnerID   string
	StorageID string
	Name      string
	ParentID  string
	Size      uint64
	CreatedAt time.Time
}

// ChunkRecord is the bookkeeping row for one accepted chunk. Write-once per
// (SessionID, Index): a re-send with the same checksum is a no-op, with a
// different checksum it is rejected.
type ChunkRecord struct {
	SessionID  string
	Index      int
	ByteLength uint64
	Checksum   []byte
}

// Quota is the per-owner storage ledger. 0 <= UsedBytes <= TotalBytes holds
// at every committed state.
type Quota struct {
	OwnerID    string
	UsedBytes  uint64
	TotalBytes uint64
}

// Remaining returns the unreserved portion of the allotment.
func (q *Quota) Remaining() uint64 {
	if q.UsedBytes >= q.TotalBytes {
		return 0
	}
	return q.TotalBytes - q.UsedBytes
}
