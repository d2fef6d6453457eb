package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
)

// writeError maps pipeline errors to the uniform wire error body.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, api.CodeInternal

	switch {
	case errors.Is(err, common.ErrUnauthorized):
		status, code = http.StatusUnauthorized, api.CodeUnauthorized
	case errors.Is(err, common.ErrQuotaExceeded):
		status, code = http.StatusRequestEntityTooLarge, api.CodeQuotaExceeded
	case errors.Is(err, common.ErrChecksumMismatch):
		status, code = http.StatusUnprocessableEntity, api.CodeChecksumMismatch
	case errors.Is(err, common.ErrSessionExpired):
		status, code = http.StatusGone, api.CodeSessionExpired
	case errors.Is(err, common.ErrSessionNotFound), errors.Is(err, common.ErrNotFound):
		status, code = http.StatusNotFound, api.CodeSessionNotFound
	case errors.Is(err, common.ErrIncompleteUpload):
		status, code = http.StatusConflict, api.CodeIncompleteUpload
	case errors.Is(err, common.ErrInvalidParent):
		status, code = http.StatusBadRequest, api.CodeInvalidParent
	case errors.Is(err, common.ErrInvalidIndex):
		status, code = http.StatusBadRequest, api.CodeBadRequest
	}

	body := api.ErrorResponse{Code: code, Message: err.Error()}

	var pe *common.PipelineError
	if errors.As(err, &pe) {
		body.Missing = pe.Missing
		if pe.Index >= 0 {
			idx := pe.Index
			body.Index = &idx
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err.Error())
		// Do not leak internals.
		body.Message = "internal error"
	}

	c.AbortWithStatusJSON(status, body)
}
