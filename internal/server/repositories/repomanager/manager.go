package repomanager

import (
	"context"
	"database/sql"

	"github.com/chunkdrive/chunkdrive/internal/dbx"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/chunks"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/files"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/quotas"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/sessions"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/storages"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// services can run several repositories inside one transaction.
type RepositoryManager interface {
	Sessions(db dbx.DBTX) sessions.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Storages(db dbx.DBTX) storages.Repository
	Files(db dbx.DBTX) files.Repository
	Quotas(db dbx.DBTX) quotas.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
