package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
)

// uploadChunks transfers the missing chunk indices with bounded
// parallelism. The first non-retryable failure cancels the remaining
// transfers.
func (c *Coordinator) uploadChunks(ctx context.Context, sessionID string, src io.ReaderAt, size, chunkSize uint64, missing []int) error {
	if chunkSize == 0 {
		return common.NewPipelineError(common.KindFatal, fmt.Errorf("server returned zero chunk size"))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, index := range missing {
		g.Go(func() error {
			return c.uploadOneChunk(ctx, sessionID, src, size, chunkSize, index)
		})
	}

	return g.Wait()
}

// uploadOneChunk reads the chunk payload and sends it, retrying transient
// failures with jittered exponential backoff. Retry exhaustion surfaces as
// a chunk upload failure carrying the index.
func (c *Coordinator) uploadOneChunk(ctx context.Context, sessionID string, src io.ReaderAt, size, chunkSize uint64, index int) error {
	offset := uint64(index) * chunkSize
	if offset >= size {
		return common.NewPipelineError(common.KindFatal, fmt.Errorf("chunk %d starts beyond source end", index))
	}

	length := chunkSize
	if offset+length > size {
		length = size - offset
	}

	payload := make([]byte, length)
	if _, err := src.ReadAt(payload, int64(offset)); err != nil {
		return common.NewPipelineError(common.KindFatal, fmt.Errorf("%w: chunk %d: %v", common.ErrRead, index, err))
	}
	checksum := fingerprint.ChecksumBytes(payload)

	backoff := retry.NewExponential(c.cfg.RetryBaseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(c.cfg.RetryMaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.Retries), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		_, err := c.api.UploadChunk(ctx, sessionID, index, payload, checksum)
		if err == nil {
			return nil
		}
		if common.KindOf(err) == common.KindTransient {
			c.logger.Warn(ctx, "chunk upload failed, will retry",
				"index", index, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if common.KindOf(err) == common.KindTransient {
			// Retries exhausted.
			return &common.PipelineError{
				Kind:  common.KindFatal,
				Err:   fmt.Errorf("%w: %v", common.ErrChunkUploadFailed, err),
				Index: index,
			}
		}
		return err
	}

	c.bumpProgress(length)
	return nil
}
