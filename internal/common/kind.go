package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can decide whether a
// retry, a restart from the existence check, or a hard abort is sane.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
	KindState      ErrorKind = "state"
	KindResource   ErrorKind = "resource"
	KindFatal      ErrorKind = "fatal"
)

// PipelineError wraps a sentinel error with the kind and the offending
// index or missing-index set, where one applies.
type PipelineError struct {
	Kind    ErrorKind
	Err     error
	Index   int   // offending chunk index, -1 when not applicable
	Missing []int // still-missing indices for ErrIncompleteUpload
}

func (e *PipelineError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s (%s, index %d)", e.Err.Error(), e.Kind, e.Index)
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a PipelineError with no index attached.
func NewPipelineError(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err, Index: -1}
}

// KindOf reports the ErrorKind of err. Sentinels that were not wrapped in a
// PipelineError are classified by identity; unknown errors are transient so
// the scheduler may retry them.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrInvalidParent),
		errors.Is(err, ErrInvalidIndex):
		return KindValidation
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrIncompleteUpload):
		return KindState
	case errors.Is(err, ErrQuotaExceeded):
		return KindResource
	case errors.Is(err, ErrRead), errors.Is(err, ErrUnauthorized):
		return KindFatal
	default:
		return KindTransient
	}
}
