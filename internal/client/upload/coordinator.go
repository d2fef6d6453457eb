// Package upload drives a single file upload end to end: fingerprint,
// existence check, parallel chunk transfer with retries, and merge.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	wire "github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/logging"
)

// State is the coordinator phase, reported through the progress callback.
type State string

const (
	StateInit           State = "init"
	StateFingerprinting State = "fingerprinting"
	StateChecking       State = "checking"
	StateChunkUploading State = "chunk_uploading"
	StateMerging        State = "merging"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Progress is a snapshot of the upload. UploadedChunks and BytesUploaded
// only ever grow for the lifetime of one Upload call.
type Progress struct {
	State          State
	UploadedChunks int
	TotalChunks    int
	BytesUploaded  uint64
	TotalBytes     uint64
}

// ProgressFunc receives progress snapshots. It must not block.
type ProgressFunc func(Progress)

// API is the slice of the server contract the coordinator needs.
type API interface {
	Check(ctx context.Context, req wire.CheckRequest) (*wire.CheckResponse, error)
	UploadChunk(ctx context.Context, sessionID string, index int, payload []byte, checksum []byte) (int, error)
	Merge(ctx context.Context, sessionID string, req wire.MergeRequest) (*wire.MergeResponse, error)
}

type Config struct {
	Concurrency    int
	Retries        int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type Coordinator struct {
	api      API
	cfg      Config
	logger   logging.Logger
	progress ProgressFunc

	state          State
	uploadedChunks atomic.Int64
	uploadedBytes  atomic.Uint64
	totalChunks    int
	totalBytes     uint64
}

// NewCoordinator builds a single-use coordinator. progress may be nil.
func NewCoordinator(apiClient API, cfg Config, logger logging.Logger, progress ProgressFunc) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	return &Coordinator{
		api:      apiClient,
		cfg:      cfg,
		logger:   logger.With("module", "upload_coordinator"),
		progress: progress,
		state:    StateInit,
	}
}

// Upload transfers the content of src under the given name into the target
// folder and returns the resulting file id. It is resumable: a rerun after
// an interruption transfers only what the server is still missing. A stale
// session detected mid-flight restarts the flow from the existence check
// once before giving up.
func (c *Coordinator) Upload(ctx context.Context, src io.ReaderAt, size uint64, name, parentID string) (string, error) {
	fileID, err := c.run(ctx, src, size, name, parentID, true)
	switch {
	case err == nil:
		c.setState(StateCompleted)
		return fileID, nil
	case errors.Is(err, context.Canceled):
		c.setState(StateCancelled)
		return "", err
	default:
		c.setState(StateFailed)
		return "", err
	}
}

func (c *Coordinator) run(ctx context.Context, src io.ReaderAt, size uint64, name, parentID string, mayRestart bool) (string, error) {
	c.setState(StateFingerprinting)

	fp, err := fingerprint.Identify(io.NewSectionReader(src, 0, int64(size)))
	if err != nil {
		return "", common.NewPipelineError(common.KindFatal, err)
	}
	if fp.DeclaredSize != size {
		return "", common.NewPipelineError(common.KindFatal,
			fmt.Errorf("%w: source is %d bytes, expected %d", common.ErrRead, fp.DeclaredSize, size))
	}
	c.totalBytes = size

	c.setState(StateChecking)
	res, err := c.api.Check(ctx, wire.CheckRequest{
		Fingerprint: fp.HexHash(),
		Size:        size,
		Name:        name,
		ParentID:    parentID,
	})
	if err != nil {
		return "", err
	}

	if res.Complete {
		// Identical content already exists; no bytes move.
		c.totalChunks = 0
		c.logger.Info(ctx, "instant completion", "file_id", res.FileID)
		return res.FileID, nil
	}

	c.totalChunks = res.TotalChunks
	c.floorProgress(res.TotalChunks - len(res.MissingChunks))

	c.setState(StateChunkUploading)
	err = c.uploadChunks(ctx, res.SessionID, src, size, res.ChunkSize, res.MissingChunks)
	if err == nil {
		c.setState(StateMerging)
		merged, merr := c.api.Merge(ctx, res.SessionID, wire.MergeRequest{Name: name, ParentID: parentID})
		if merr == nil {
			return merged.FileID, nil
		}
		err = merr
	}

	// A session that expired or vanished under us is recoverable exactly
	// once: the server state is re-discovered from the existence check.
	if mayRestart && common.KindOf(err) == common.KindState && !errors.Is(err, common.ErrIncompleteUpload) {
		c.logger.Warn(ctx, "session lost, restarting from check", "error", err.Error())
		return c.run(ctx, src, size, name, parentID, false)
	}

	return "", err
}

func (c *Coordinator) setState(s State) {
	c.state = s
	c.report()
}

// bumpProgress adds one newly confirmed chunk and its bytes and re-reports.
func (c *Coordinator) bumpProgress(bytes uint64) {
	c.uploadedChunks.Add(1)
	c.uploadedBytes.Add(bytes)
	c.report()
}

// floorProgress raises the confirmed-chunk counter to at least n, so a
// resumed or restarted upload never reports progress going backwards.
func (c *Coordinator) floorProgress(n int) {
	for {
		cur := c.uploadedChunks.Load()
		if int64(n) <= cur || c.uploadedChunks.CompareAndSwap(cur, int64(n)) {
			break
		}
	}
	c.report()
}

func (c *Coordinator) report() {
	if c.progress == nil {
		return
	}
	c.progress(Progress{
		State:          c.state,
		UploadedChunks: int(c.uploadedChunks.Load()),
		TotalChunks:    c.totalChunks,
		BytesUploaded:  c.uploadedBytes.Load(),
		TotalBytes:     c.totalBytes,
	})
}
