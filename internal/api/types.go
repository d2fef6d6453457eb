// Package api defines the JSON wire contract shared by the server
// handlers and the client.
package api

// CheckRequest asks whether content identified by a fingerprint already
// exists, and opens or resumes an upload session if it does not.
type CheckRequest struct {
	// Fingerprint is the lowercase hex sha256 of the full content.
	Fingerprint string `json:"fingerprint"`
	Size        uint64 `json:"size"`
	Name        string `json:"name"`
	ParentID    string `json:"parentId"`
}

type CheckResponse struct {
	Complete bool   `json:"complete"`
	FileID   string `json:"fileId,omitempty"`

	SessionID     string `json:"sessionId,omitempty"`
	ChunkSize     uint64 `json:"chunkSize,omitempty"`
	TotalChunks   int    `json:"totalChunks"`
	MissingChunks []int  `json:"missingChunks,omitempty"`
}

type ChunkResponse struct {
	AcceptedCount int `json:"acceptedCount"`
}

type MergeRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

type MergeResponse struct {
	FileID string `json:"fileId"`
}

// ErrorResponse is the uniform error body. Missing is set on incomplete
// merge attempts, Index on chunk-scoped failures.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Missing []int  `json:"missing,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeUnauthorized     = "unauthorized"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeChecksumMismatch = "checksum_mismatch"
	CodeSessionExpired   = "session_expired"
	CodeSessionNotFound  = "session_not_found"
	CodeIncompleteUpload = "incomplete_upload"
	CodeInvalidParent    = "invalid_parent"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)
