// Package httpapi exposes the upload pipeline over HTTP+JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
	"github.com/chunkdrive/chunkdrive/internal/logging"
	"github.com/chunkdrive/chunkdrive/internal/server/services/upload"
)

// UploadService is the slice of the upload service the handlers need.
type UploadService interface {
	CheckExistence(ctx context.Context, ownerID string, fp fingerprint.Fingerprint, name, parentID string) (*upload.CheckResult, error)
	AcceptChunk(ctx context.Context, sessionID string, index int, payload []byte, checksum []byte) (int, error)
	Merge(ctx context.Context, sessionID, name, parentID string) (string, error)
}

type Server struct {
	uploads   UploadService
	jwtSecret []byte
	logger    logging.Logger
}

func NewServer(uploads UploadService, jwtSecret []byte, logger logging.Logger) *Server {
	return &Server{
		uploads:   uploads,
		jwtSecret: jwtSecret,
		logger:    logger.With("module", "httpapi"),
	}
}

// Routes builds the gin engine with the versioned API mounted.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1", s.authMiddleware())
	v1.POST("/uploads/check", s.CheckHandler)
	v1.PUT("/uploads/:sessionID/chunks/:index", s.ChunkHandler)
	v1.POST("/uploads/:sessionID/merge", s.MergeHandler)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down draining in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
