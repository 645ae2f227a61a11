package ingest

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown files and for files that belong to a
// different tenant or survey. Soft deleted files are not found by reads.
var ErrNotFound = errors.New("file not found")

// ErrQuarantined is returned for files whose content was removed after a
// positive virus scan. The record stays readable; the content does not.
var ErrQuarantined = errors.New("file quarantined")

// ValidationError rejects an upload before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// QuotaExceededError means the tenant has no room left for the upload.
type QuotaExceededError struct {
	TenantID  string
	Requested int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded for tenant %s: requested %d bytes, %d remaining",
		e.TenantID, e.Requested, e.Remaining)
}

// StorageError wraps a backend failure surfaced to a caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
