// Package storage defines the byte storage abstraction used by the ingestion
// core together with the tenant key layout and the local filesystem backend.
// Object storage variants live in s3storage; both satisfy Backend so the
// service never needs to know which one was configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Backend stores opaque bytes under tenant-scoped keys.
type Backend interface {
	// Put writes size bytes from r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens the object. Callers close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a URL granting read access to key for ttl.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Error wraps an I/O failure talking to a backend.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error. ErrNotFound passes
// through unchanged so callers can keep using errors.Is.
func Wrap(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
