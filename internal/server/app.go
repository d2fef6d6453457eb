// Package server initializes and runs the upload server: database,
// migrations, blob backend, upload pipeline, background cleaner and the
// HTTP endpoint, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chunkdrive/chunkdrive/internal/logging"
	"github.com/chunkdrive/chunkdrive/internal/server/blob"
	"github.com/chunkdrive/chunkdrive/internal/server/config"
	"github.com/chunkdrive/chunkdrive/internal/server/httpapi"
	"github.com/chunkdrive/chunkdrive/internal/server/repositories/repomanager"
	"github.com/chunkdrive/chunkdrive/internal/server/services/cleaner"
	"github.com/chunkdrive/chunkdrive/internal/server/services/upload"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	httpSrv *httpapi.Server
	cleaner *cleaner.Cleaner
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSON()

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := newBlobStore(c)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	uploads := upload.NewService(db, repos, blobs, nil, upload.Config{
		ChunkSize:         c.ChunkSize,
		SessionTTL:        c.SessionTTL,
		DefaultQuotaBytes: c.DefaultQuotaBytes,
	}, logger)

	cl := cleaner.NewCleaner(db, repos, blobs, c.SweepInterval, logger)
	srv := httpapi.NewServer(uploads, []byte(c.SecretKey), logger)

	return &App{config: c, logger: logger, db: db, httpSrv: srv, cleaner: cl}, nil
}

func newBlobStore(c *config.Config) (blob.Store, error) {
	switch c.BlobBackend {
	case "s3":
		return blob.NewS3Store(context.Background(), blob.S3Options{
			Region:       c.S3Region,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
		})
	case "local", "":
		return blob.NewLocalStore(c.BlobLocalPath)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := app.httpSrv.ListenAndServe(ctx, app.config.EndpointAddrHTTP); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.cleaner.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
