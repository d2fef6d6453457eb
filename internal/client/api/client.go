// Package api implements the client side of the upload HTTP contract.
// Server error codes are mapped back onto the shared pipeline sentinels so
// callers can classify failures with errors.Is and common.KindOf.
package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	wire "github.com/chunkdrive/chunkdrive/internal/api"
	"github.com/chunkdrive/chunkdrive/internal/common"
)

// Client encapsulates state for talking to the upload server. The bearer
// token is attached to every request.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

func NewClient(baseURL, token string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("malformed base URL: %w", err)
	}
	return &Client{base: base, http: http.DefaultClient, token: token}, nil
}

// Check asks the server whether the content already exists and opens or
// resumes a session otherwise.
func (c *Client) Check(ctx context.Context, req wire.CheckRequest) (*wire.CheckResponse, error) {
	var res wire.CheckResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/uploads/check", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadChunk sends one chunk payload and returns the server-side accepted
// count.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index int, payload []byte, checksum []byte) (int, error) {
	path := fmt.Sprintf("/api/v1/uploads/%s/chunks/%d", url.PathEscape(sessionID), index)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.JoinPath(path).String(), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(common.ChunkChecksumHeaderName, hex.EncodeToString(checksum))
	c.authorize(req)

	var res wire.ChunkResponse
	if err := c.send(req, &res); err != nil {
		return 0, err
	}
	return res.AcceptedCount, nil
}

// Merge asks the server to commit the session into a file record.
func (c *Client) Merge(ctx context.Context, sessionID string, req wire.MergeRequest) (*wire.MergeResponse, error) {
	path := fmt.Sprintf("/api/v1/uploads/%s/merge", url.PathEscape(sessionID))

	var res wire.MergeResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqData, respData any) error {
	data, err := json.Marshal(reqData)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.send(req, respData)
}

func (c *Client) send(req *http.Request, respData any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Connection-level failures are worth retrying.
		return common.NewPipelineError(common.KindTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.NewPipelineError(common.KindTransient, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, body)
	}

	if respData != nil {
		if err := json.Unmarshal(body, respData); err != nil {
			return err
		}
	}
	return nil
}

// decodeError turns a wire error body back into a PipelineError carrying
// the matching sentinel.
func decodeError(status int, body []byte) error {
	var e wire.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		if status >= http.StatusInternalServerError {
			return common.NewPipelineError(common.KindTransient, fmt.Errorf("server error: http %d", status))
		}
		return common.NewPipelineError(common.KindFatal, fmt.Errorf("http %d: %s", status, body))
	}

	pe := &common.PipelineError{Index: -1, Missing: e.Missing}
	if e.Index != nil {
		pe.Index = *e.Index
	}

	switch e.Code {
	case wire.CodeUnauthorized:
		pe.Kind, pe.Err = common.KindFatal, common.ErrUnauthorized
	case wire.CodeQuotaExceeded:
		pe.Kind, pe.Err = common.KindResource, common.ErrQuotaExceeded
	case wire.CodeChecksumMismatch:
		pe.Kind, pe.Err = common.KindValidation, common.ErrChecksumMismatch
	case wire.CodeSessionExpired:
		pe.Kind, pe.Err = common.KindState, common.ErrSessionExpired
	case wire.CodeSessionNotFound:
		pe.Kind, pe.Err = common.KindState, common.ErrSessionNotFound
	case wire.CodeIncompleteUpload:
		pe.Kind, pe.Err = common.KindState, common.ErrIncompleteUpload
	case wire.CodeInvalidParent:
		pe.Kind, pe.Err = common.KindValidation, common.ErrInvalidParent
	case wire.CodeInternal:
		pe.Kind, pe.Err = common.KindTransient, fmt.Errorf("server error: %s", e.Message)
	default:
		pe.Kind, pe.Err = common.KindValidation, fmt.Errorf("%s: %s", e.Code, e.Message)
	}

	return pe
}
