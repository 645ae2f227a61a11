// Package repository persists upload records. The pipeline is the only writer
// of processing state for a record; every transition it makes is guarded by
// the state it expects, so a concurrent soft delete always wins.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("upload record not found")

// Completion is written when the pipeline finishes successfully.
type Completion struct {
	ScanStatus model.ScanStatus
	ScannedAt  time.Time
	Metadata   model.Metadata
}

// Failure is written when the pipeline rejects or cannot process a file.
type Failure struct {
	ScanStatus model.ScanStatus
	ScannedAt  *time.Time
	Message    string
}

// ListFilter narrows List to one survey and optionally one response, field or
// uploader. Deleted records are never listed.
type ListFilter struct {
	TenantID   string
	SurveyID   string
	ResponseID string
	FieldID    string
	UploadedBy string
	Limit      int
}

// Store is the upload record persistence contract.
type Store interface {
	// Create inserts rec. CreatedAt/UpdatedAt are set when zero.
	Create(ctx context.Context, rec *model.UploadRecord) error
	// Get returns the record in any state, including deleted ones.
	Get(ctx context.Context, fileID string) (*model.UploadRecord, error)
	// Claim moves an uploading record to processing. It reports false when the
	// record is in any other state, so at most one caller ever wins.
	Claim(ctx context.Context, fileID string) (*model.UploadRecord, bool, error)
	// Complete moves a processing record to completed. It reports false when
	// the record left the processing state in the meantime.
	Complete(ctx context.Context, fileID string, c Completion) (bool, error)
	// Fail moves a processing record to failed.
	Fail(ctx context.Context, fileID string, f Failure) (bool, error)
	// SetAccessURL caches an issued URL on an active record.
	SetAccessURL(ctx context.Context, fileID, url string, expiresAt time.Time) error
	// SoftDelete marks the record deleted and returns it along with the status
	// it had before. A previous status of deleted means nothing changed.
	SoftDelete(ctx context.Context, fileID string, at time.Time) (*model.UploadRecord, model.FileStatus, error)
	// List returns active records matching filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*model.UploadRecord, error)
	// ListStale returns records still uploading that were created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.UploadRecord, error)
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
