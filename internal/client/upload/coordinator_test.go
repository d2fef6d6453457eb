package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/logging"
)

const testChunkSize = 8

// fakeServer mimics the server-side session bookkeeping so coordinator
// tests exercise the full client flow without a network.
type fakeServer struct {
	mu sync.Mutex

	chunkSize uint64
	sessionID string
	total     int
	received  map[int][]byte

	complete bool
	fileID   string

	checkCalls  int
	uploadCalls int
	mergeCalls  int

	// transientFailures[i] makes the first n uploads of chunk i fail with a
	// retryable error.
	transientFailures map[int]int
	// expireSessions makes that many uploads observe an expired session,
	// each expiry discarding all accepted chunks.
	expireSessions int
}

func newFakeServer(total int) *fakeServer {
	return &fakeServer{
		chunkSize:         testChunkSize,
		sessionID:         "sess-1",
		total:             total,
		received:          map[int][]byte{},
		transientFailures: map[int]int{},
	}
}

func (f *fakeServer) missing() []int {
	var out []int
	for i := 0; i < f.total; i++ {
		if _, ok := f.received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func (f *fakeServer) Check(_ context.Context, req wire.CheckRequest) (*wire.CheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++

	if f.complete {
		return &wire.CheckResponse{Complete: true, FileID: f.fileID}, nil
	}
	return &wire.CheckResponse{
		SessionID:     f.sessionID,
		ChunkSize:     f.chunkSize,
		TotalChunks:   f.total,
		MissingChunks: f.missing(),
	}, nil
}

func (f *fakeServer) UploadChunk(_ context.Context, sessionID string, index int, payload []byte, checksum []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++

	if f.expireSessions > 0 {
		f.expireSessions--
		f.sessionID = fmt.Sprintf("sess-%d", f.checkCalls+1)
		f.received = map[int][]byte{}
		return 0, common.NewPipelineError(common.KindState, common.ErrSessionExpired)
	}

	if sessionID != f.sessionID {
		return 0, common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
	}

	if remaining := f.transientFailures[index]; remaining > 0 {
		f.transientFailures[index] = remaining - 1
		return 0, common.NewPipelineError(common.KindTransient, errors.New("flaky network"))
	}

	if !bytes.Equal(fingerprint.ChecksumBytes(payload), checksum) {
		return 0, common.NewPipelineError(common.KindValidation, common.ErrChecksumMismatch)
	}

	f.received[index] = payload
	return len(f.received), nil
}

func (f *fakeServer) Merge(_ context.Context, sessionID string, req wire.MergeRequest) (*wire.MergeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls++

	if sessionID != f.sessionID {
		return nil, common.NewPipelineError(common.KindState, common.ErrSessionNotFound)
	}
	if missing := f.missing(); len(missing) > 0 {
		return nil, &common.PipelineError{Kind: common.KindState, Err: common.ErrIncompleteUpload, Index: -1, Missing: missing}
	}

	f.complete = true
	f.fileID = "file-1"
	return &wire.MergeResponse{FileID: f.fileID}, nil
}

func (f *fakeServer) assembled() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for i := 0; i < f.total; i++ {
		buf.Write(f.received[i])
	}
	return buf.Bytes()
}

func fastConfig() Config {
	return Config{
		Concurrency:    3,
		Retries:        4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func newTestCoordinator(srv API, progress ProgressFunc) *Coordinator {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewCoordinator(srv, fastConfig(), logger, progress)
}

func totalChunksFor(data []byte) int {
	return (len(data) + testChunkSize - 1) / testChunkSize
}

func TestUpload_HappyPath(t *testing.T) {
	data := []byte("coordinated upload of a file that spans several chunks")
	srv := newFakeServer(totalChunksFor(data))

	var snapshots []Progress
	c := newTestCoordinator(srv, func(p Progress) { snapshots = append(snapshots, p) })

	fileID, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)
	assert.Equal(t, data, srv.assembled())

	// Progress never moves backwards and ends completed.
	prev := Progress{}
	for _, p := range snapshots {
		assert.GreaterOrEqual(t, p.UploadedChunks, prev.UploadedChunks)
		assert.GreaterOrEqual(t, p.BytesUploaded, prev.BytesUploaded)
		prev = p
	}
	assert.Equal(t, StateCompleted, snapshots[len(snapshots)-1].State)
	assert.Equal(t, srv.total, prev.UploadedChunks)
	assert.Equal(t, uint64(len(data)), prev.BytesUploaded)
}

func TestUpload_InstantCompletion(t *testing.T) {
	srv := newFakeServer(1)
	srv.complete = true
	srv.fileID = "file-77"

	c := newTestCoordinator(srv, nil)

	data := []byte("whatever")
	fileID, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.NoError(t, err)
	assert.Equal(t, "file-77", fileID)
	assert.Zero(t, srv.uploadCalls)
	assert.Zero(t, srv.mergeCalls)
}

func TestUpload_ResumeSendsOnlyMissing(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 5)
	srv := newFakeServer(totalChunksFor(data))

	// Chunks 0 and 3 survived a previous attempt.
	srv.received[0] = data[0:testChunkSize]
	srv.received[3] = data[3*testChunkSize : 4*testChunkSize]

	c := newTestCoordinator(srv, nil)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.NoError(t, err)
	assert.Equal(t, 3, srv.uploadCalls)
	assert.Equal(t, data, srv.assembled())
}

func TestUpload_TransientFailuresAreRetried(t *testing.T) {
	data := bytes.Repeat([]byte("x"), testChunkSize*3)
	srv := newFakeServer(totalChunksFor(data))
	srv.transientFailures[1] = 2

	c := newTestCoordinator(srv, nil)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.NoError(t, err)
	assert.Equal(t, data, srv.assembled())
	// 3 chunks plus 2 failed attempts.
	assert.Equal(t, 5, srv.uploadCalls)
}

func TestUpload_RetryExhaustionFailsWithIndex(t *testing.T) {
	data := bytes.Repeat([]byte("x"), testChunkSize*2)
	srv := newFakeServer(totalChunksFor(data))
	srv.transientFailures[1] = 100

	c := newTestCoordinator(srv, nil)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrChunkUploadFailed))

	var pe *common.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, StateFailed, c.state)
}

func TestUpload_RestartsOnceOnExpiredSession(t *testing.T) {
	data := bytes.Repeat([]byte("y"), testChunkSize*2)
	srv := newFakeServer(totalChunksFor(data))
	srv.expireSessions = 1

	c := newTestCoordinator(srv, nil)

	fileID, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)
	assert.Equal(t, 2, srv.checkCalls)
	assert.Equal(t, data, srv.assembled())
}

func TestUpload_SecondExpiryIsFatal(t *testing.T) {
	data := bytes.Repeat([]byte("z"), testChunkSize*2)
	srv := newFakeServer(totalChunksFor(data))
	srv.expireSessions = 10

	c := newTestCoordinator(srv, nil)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrSessionExpired))
	assert.Equal(t, 2, srv.checkCalls)
	assert.Equal(t, StateFailed, c.state)
}

func TestUpload_Cancellation(t *testing.T) {
	data := bytes.Repeat([]byte("c"), testChunkSize*4)
	srv := newFakeServer(totalChunksFor(data))
	// Endless transient failures keep the scheduler in its backoff loop
	// until the context fires.
	for i := 0; i < srv.total; i++ {
		srv.transientFailures[i] = 1 << 30
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCoordinator(srv, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(ctx, bytes.NewReader(data), uint64(len(data)), "f.bin", "root")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, StateCancelled, c.state)
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not observe cancellation")
	}
}
