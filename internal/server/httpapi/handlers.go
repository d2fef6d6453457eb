package httpapi

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
	"github.com/chunkdrive/chunkdrive/internal/fingerprint"
)

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{
		Code:    api.CodeBadRequest,
		Message: msg,
	})
}

// CheckHandler serves POST /api/v1/uploads/check.
func (s *Server) CheckHandler(c *gin.Context) {
	var req api.CheckRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		badRequest(c, "missing request body")
		return
	} else if err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.Name == "" {
		badRequest(c, "name is required")
		return
	}

	fp, err := fingerprint.ParseHex(req.Fingerprint, req.Size)
	if err != nil {
		badRequest(c, "malformed fingerprint")
		return
	}

	res, err := s.uploads.CheckExistence(c.Request.Context(), ownerID(c), fp, req.Name, req.ParentID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.CheckResponse{
		Complete:      res.Complete,
		FileID:        res.FileID,
		SessionID:     res.SessionID,
		ChunkSize:     res.ChunkSize,
		TotalChunks:   res.TotalChunks,
		MissingChunks: res.MissingChunks,
	})
}

// ChunkHandler serves PUT /api/v1/uploads/:sessionID/chunks/:index with an
// octet-stream body and the chunk sha256 in a header.
func (s *Server) ChunkHandler(c *gin.Context) {
	sessionID := c.Param("sessionID")

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		badRequest(c, "malformed chunk index")
		return
	}

	checksum, err := hex.DecodeString(c.GetHeader(common.ChunkChecksumHeaderName))
	if err != nil || len(checksum) != fingerprint.Size {
		badRequest(c, "malformed chunk checksum")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "unreadable request body")
		return
	}

	count, err := s.uploads.AcceptChunk(c.Request.Context(), sessionID, index, payload, checksum)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ChunkResponse{AcceptedCount: count})
}

// MergeHandler serves POST /api/v1/uploads/:sessionID/merge.
func (s *Server) MergeHandler(c *gin.Context) {
	sessionID := c.Param("sessionID")

	var req api.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	fileID, err := s.uploads.Merge(c.Request.Context(), sessionID, req.Name, req.ParentID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MergeResponse{FileID: fileID})
}
