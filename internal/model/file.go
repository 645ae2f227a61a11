// Package model contains the entities shared by the ingestion packages.
package model

import (
	"strings"
	"time"
)

// FileStatus is the processing lifecycle of an upload record.
type FileStatus string

const (
	StatusUploading  FileStatus = "uploading"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
	StatusDeleted    FileStatus = "deleted"
)

// Terminal reports whether the pipeline will never touch the record again.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// ScanStatus is the virus scan verdict recorded on an upload.
type ScanStatus string

const (
	ScanPending  ScanStatus = "pending"
	ScanClean    ScanStatus = "clean"
	ScanInfected ScanStatus = "infected"
	ScanSkipped  ScanStatus = "skipped"
)

// Kind selects which type-specific metadata set a record carries.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindFromMIME resolves image/* and video/* types. Anything else is unsupported.
func KindFromMIME(mimeType string) (Kind, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage, true
	case strings.HasPrefix(mt, "video/"):
		return KindVideo, true
	default:
		return "", false
	}
}

// ImageMetadata is populated for KindImage records. Zero dimensions and a nil
// thumbnail mean the image could not be decoded. ThumbnailPath is a backend
// key; clients get UploadRecord.ThumbnailURL instead.
type ImageMetadata struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	ThumbnailPath *string `json:"-"`
}

// VideoMetadata is populated for KindVideo records.
type VideoMetadata struct {
	DurationSeconds float64 `json:"duration"`
	Codec           string  `json:"codec,omitempty"`
	ThumbnailPath   *string `json:"-"`
}

// Metadata carries the outcome of the type-specific stage. Exactly one of the
// fields is set, matching the record's Kind.
type Metadata struct {
	Image *ImageMetadata
	Video *VideoMetadata
}

// UploadRecord is the persisted description of one uploaded file.
type UploadRecord struct {
	FileID     string  `json:"fileId"`
	TenantID   string  `json:"tenantId"`
	SurveyID   string  `json:"surveyId"`
	ResponseID *string `json:"responseId,omitempty"`
	FieldID    string  `json:"fieldId"`

	OriginalFilename string `json:"filename"`
	// StoredPath is the backend-relative key and never leaves the service.
	StoredPath string `json:"-"`
	SizeBytes  int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`
	Kind       Kind   `json:"fileType"`

	Image *ImageMetadata `json:"image,omitempty"`
	Video *VideoMetadata `json:"video,omitempty"`

	Status          FileStatus `json:"status"`
	ProcessingError *string    `json:"processingError,omitempty"`

	ScanStatus ScanStatus `json:"scanStatus"`
	ScannedAt  *time.Time `json:"scannedAt,omitempty"`

	AccessURL          *string    `json:"accessUrl,omitempty"`
	AccessURLExpiresAt *time.Time `json:"accessUrlExpiresAt,omitempty"`

	// ThumbnailURL is presigned per read and never persisted.
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`

	UploadedBy string     `json:"uploadedBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// ThumbnailPath returns the stored thumbnail key for either kind.
func (r *UploadRecord) ThumbnailPath() string {
	switch {
	case r.Image != nil && r.Image.ThumbnailPath != nil:
		return *r.Image.ThumbnailPath
	case r.Video != nil && r.Video.ThumbnailPath != nil:
		return *r.Video.ThumbnailPath
	}
	return ""
}

// Deleted reports whether the record was soft deleted.
func (r *UploadRecord) Deleted() bool {
	return r.DeletedAt != nil || r.Status == StatusDeleted
}

// Clone returns a deep copy so in-memory stores never share pointers with callers.
func (r *UploadRecord) Clone() *UploadRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ResponseID = cloneString(r.ResponseID)
	cp.ProcessingError = cloneString(r.ProcessingError)
	cp.AccessURL = cloneString(r.AccessURL)
	cp.ThumbnailURL = cloneString(r.ThumbnailURL)
	cp.ScannedAt = cloneTime(r.ScannedAt)
	cp.AccessURLExpiresAt = cloneTime(r.AccessURLExpiresAt)
	cp.DeletedAt = cloneTime(r.DeletedAt)
	meta := Metadata{Image: r.Image, Video: r.Video}.Clone()
	cp.Image, cp.Video = meta.Image, meta.Video
	return &cp
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	var out Metadata
	if m.Image != nil {
		img := *m.Image
		img.ThumbnailPath = cloneString(m.Image.ThumbnailPath)
		out.Image = &img
	}
	if m.Video != nil {
		vid := *m.Video
		vid.ThumbnailPath = cloneString(m.Video.ThumbnailPath)
		out.Video = &vid
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
