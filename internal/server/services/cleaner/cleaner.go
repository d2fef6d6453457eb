// Package cleaner reclaims expired upload sessions and unreferenced
// content objects in the background.
package cleaner

import (
	"context"
	"database/sql"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/logging"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/repomanager"
)

// runTx is a seam so cleaner tests can run without a real database.
var runTx = dbx.WithTx

// now is a seam for expiry tests.
var now = time.Now

type Cleaner struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	blobs    blob.Store
	interval time.Duration
	logger   logging.Logger
}

func NewCleaner(db *sql.DB, repos repomanager.RepositoryManager, blobs blob.Store, interval time.Duration, logger logging.Logger) *Cleaner {
	return &Cleaner{
		db:       db,
		repos:    repos,
		blobs:    blobs,
		interval: interval,
		logger:   logger.With("module", "cleaner"),
	}
}

// Run sweeps on a ticker until the context is cancelled. One sweep runs
// immediately on start.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Sweep(ctx); err != nil {
			c.logger.Error(ctx, "sweep failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep reclaims expired sessions first, then content objects no file
// references anymore. Blob deletion is best effort; a blob that survives a
// crashed sweep is picked up on the next pass because the row outlives it.
func (c *Cleaner) Sweep(ctx context.Context) error {
	if err := c.sweepExpiredSessions(ctx); err != nil {
		return err
	}
	return c.sweepUnreferencedObjects(ctx)
}

func (c *Cleaner) sweepExpiredSessions(ctx context.Context) error {
	expired, err := c.repos.Sessions(c.db).SelectExpired(ctx, now())
	if err != nil {
		return err
	}

	for _, sess := range expired {
		err := runTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := c.repos.Chunks(tx).DeleteBySession(ctx, sess.ID); err != nil {
				return err
			}
			return c.repos.Sessions(tx).Delete(ctx, sess.ID)
		})
		if err != nil {
			c.logger.Error(ctx, "failed to reclaim session", "session_id", sess.ID, "error", err.Error())
			continue
		}

		if err := c.blobs.DeletePrefix(ctx, blob.SessionPrefix(sess.ID)); err != nil {
			c.logger.Warn(ctx, "failed to delete session chunks", "session_id", sess.ID, "error", err.Error())
		}

		c.logger.Info(ctx, "reclaimed expired session", "session_id", sess.ID, "owner_id", sess.OwnerID)
	}

	return nil
}

func (c *Cleaner) sweepUnreferencedObjects(ctx context.Context) error {
	orphans, err := c.repos.Storages(c.db).SelectUnreferenced(ctx)
	if err != nil {
		return err
	}

	for _, obj := range orphans {
		if err := c.blobs.Delete(ctx, obj.ObjectKey); err != nil {
			c.logger.Warn(ctx, "failed to delete object blob", "storage_id", obj.ID, "error", err.Error())
			continue
		}
		if err := c.repos.Storages(c.db).Delete(ctx, obj.ID); err != nil {
			c.logger.Error(ctx, "failed to delete storage row", "storage_id", obj.ID, "error", err.Error())
			continue
		}
		c.logger.Info(ctx, "reclaimed unreferenced object", "storage_id", obj.ID, "size", obj.Size)
	}

	return nil
}
