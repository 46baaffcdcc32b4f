package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an eduflow error code.
type ErrorCode string

const (
	ErrTransport            ErrorCode = "TRANSPORT_ERROR"        // 502
	ErrNoBackendAvailable   ErrorCode = "NO_BACKEND_AVAILABLE"   // 503
	ErrStaleCacheIgnored    ErrorCode = "STALE_CACHE_IGNORED"    // internal only
	ErrSyncItemFailed       ErrorCode = "SYNC_ITEM_FAILED"       // 502
	ErrStorageQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED" // 507
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"              // 404
	ErrNotConfigured        ErrorCode = "NOT_CONFIGURED"         // 412
	ErrInternal             ErrorCode = "INTERNAL"               // 500
)

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransport wraps a network or timeout failure talking to a specific backend.
// Transport errors trigger router fallback and are never surfaced on their own.
func NewTransport(backend string, err error) *Error {
	return &Error{
		Code:    ErrTransport,
		Status:  502,
		Message: fmt.Sprintf("backend %s unreachable", backend),
		Details: map[string]any{"backend": backend},
		Err:     err,
	}
}

// NewNoBackendAvailable creates a 503 error once every routing candidate is exhausted.
func NewNoBackendAvailable(tried []string, last error) *Error {
	return &Error{
		Code:    ErrNoBackendAvailable,
		Status:  503,
		Message: fmt.Sprintf("no AI backend available (tried %d)", len(tried)),
		Details: map[string]any{"tried": tried},
		Err:     last,
	}
}

// NewStaleCacheIgnored marks a cached value that was skipped because it was stale.
func NewStaleCacheIgnored(key string) *Error {
	return &Error{
		Code:    ErrStaleCacheIgnored,
		Status:  500,
		Message: fmt.Sprintf("stale cache entry ignored: %s", key),
		Details: map[string]any{"key": key},
	}
}

// NewSyncItemFailed reports a queued mutation that exhausted its retries in one drain pass.
func NewSyncItemFailed(collection, id string, attempts int, err error) *Error {
	return &Error{
		Code:    ErrSyncItemFailed,
		Status:  502,
		Message: fmt.Sprintf("failed to sync %s/%s after %d attempts", collection, id, attempts),
		Details: map[string]any{"collection": collection, "id": id, "attempts": attempts},
		Err:     err,
	}
}

// NewStorageQuotaExceeded creates a 507 error when eviction cannot make room for a write.
func NewStorageQuotaExceeded(key string, need, budget int64) *Error {
	return &Error{
		Code:    ErrStorageQuotaExceeded,
		Status:  507,
		Message: fmt.Sprintf("storage quota exceeded writing %s: need %d bytes (budget %d)", key, need, budget),
		Details: map[string]any{"key": key, "need_bytes": need, "budget_bytes": budget},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewNotConfigured creates a 412 error for a missing configuration value.
func NewNotConfigured(what string) *Error {
	return &Error{
		Code:    ErrNotConfigured,
		Status:  412,
		Message: fmt.Sprintf("%s is not configured", what),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, is an Error with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the code of the first Error in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}
