// Package ingest is the ingestion core: it validates uploads against the
// tenant's quota policy, stores the bytes, creates the upload record and hands
// the file to the processing pipeline. Reads resolve access URLs through the
// Issuer and deletes are soft and idempotent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/events"
	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
	"github.com/dharsanguruparan/surveyfiles/internal/quota"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

// Dispatcher schedules the processing pipeline for a file.
type Dispatcher interface {
	Dispatch(ctx context.Context, fileID string) error
}

// Limits are per-kind ceilings applied on top of the tenant's max file size.
// Zero means no extra ceiling.
type Limits struct {
	MaxImageBytes int64
	MaxVideoBytes int64
}

func (l Limits) ceiling(kind model.Kind) int64 {
	switch kind {
	case model.KindImage:
		return l.MaxImageBytes
	case model.KindVideo:
		return l.MaxVideoBytes
	}
	return 0
}

// Deps are the collaborators of a Service.
type Deps struct {
	Records      repository.Store
	Backend      storage.Backend
	Ledger       quota.Ledger
	Dispatcher   Dispatcher
	Notifier     events.Notifier
	Limits       Limits
	AccessURLTTL time.Duration
	Logger       *zap.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Service implements upload, read, delete and list for survey files.
type Service struct {
	records    repository.Store
	backend    storage.Backend
	ledger     quota.Ledger
	dispatcher Dispatcher
	notifier   events.Notifier
	limits     Limits
	issuer     *Issuer
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ingest")
	now := d.Now
	if now == nil {
		now = time.Now
	}
	newID := d.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = events.NewLogNotifier(logger)
	}
	return &Service{
		records:    d.Records,
		backend:    d.Backend,
		ledger:     d.Ledger,
		dispatcher: d.Dispatcher,
		notifier:   notifier,
		limits:     d.Limits,
		issuer:     NewIssuer(d.Backend, d.Records, d.AccessURLTTL, now, logger),
		logger:     logger,
		now:        now,
		newID:      newID,
	}
}

// UploadRequest describes one inbound file. Size must be the exact number of
// bytes Content will yield.
type UploadRequest struct {
	TenantID   string
	SurveyID   string
	ResponseID string
	FieldID    string
	Filename   string
	MimeType   string
	Size       int64
	Content    io.Reader
	UploadedBy string
}

// Upload validates the request, reserves quota, stores the bytes and creates
// the record in the uploading state. Processing is dispatched afterwards and
// never delays the returned record.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.UploadRecord, error) {
	mimeType := normalizeMIME(req.MimeType)
	kind, ok := model.KindFromMIME(mimeType)
	if !ok {
		metrics.Uploads.WithLabelValues("unknown", "invalid").Inc()
		return nil, invalid("file", "unsupported file type %q: only images and videos are accepted", mimeType)
	}
	rec, err := s.upload(ctx, req, kind, mimeType)
	metrics.Uploads.WithLabelValues(string(kind), uploadOutcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.UploadedBytes.WithLabelValues(string(kind)).Add(float64(rec.SizeBytes))
	return rec, nil
}

func (s *Service) upload(ctx context.Context, req UploadRequest, kind model.Kind, mimeType string) (*model.UploadRecord, error) {
	if err := validateUploadRequest(req); err != nil {
		return nil, err
	}
	entry, err := s.ledger.Entry(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	limit := entry.MaxFileSizeBytes
	if c := s.limits.ceiling(kind); c > 0 && (limit <= 0 || c < limit) {
		limit = c
	}
	if req.Size > limit {
		return nil, invalid("file", "file size %d bytes exceeds the %d byte limit for %s files", req.Size, limit, kind)
	}
	if !entry.Allows(kind, mimeType) {
		return nil, invalid("file", "file type %s is not allowed", mimeType)
	}

	fileID := s.newID()
	key, err := storage.BuildKey(storage.KeyParts{
		TenantID:   req.TenantID,
		SurveyID:   req.SurveyID,
		ResponseID: req.ResponseID,
		FieldID:    req.FieldID,
		FileID:     fileID,
		Ext:        extensionFor(req.Filename, mimeType),
	})
	if err != nil {
		return nil, invalid("", "%v", err)
	}

	if err := s.ledger.Reserve(ctx, req.TenantID, req.Size); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			return nil, &QuotaExceededError{TenantID: req.TenantID, Requested: req.Size, Remaining: entry.Remaining()}
		}
		return nil, fmt.Errorf("reserve quota: %w", err)
	}
	log := s.logger.With(zap.String("file_id", fileID), zap.String("tenant_id", req.TenantID))

	// Rollback runs detached so a cancelled request cannot leak reserved bytes.
	rollback := func(removeObject bool) {
		cleanup := context.WithoutCancel(ctx)
		if removeObject {
			if err := s.backend.Delete(cleanup, key); err != nil {
				log.Warn("rollback object", zap.Error(err))
			}
		}
		if err := s.ledger.Release(cleanup, req.TenantID, req.Size); err != nil {
			log.Error("rollback quota reservation", zap.Int64("bytes", req.Size), zap.Error(err))
		}
	}

	if err := s.backend.Put(ctx, key, req.Content, req.Size, mimeType); err != nil {
		rollback(true)
		return nil, &StorageError{Op: "put", Err: err}
	}

	now := s.now().UTC()
	rec := &model.UploadRecord{
		FileID:           fileID,
		TenantID:         req.TenantID,
		SurveyID:         req.SurveyID,
		FieldID:          req.FieldID,
		OriginalFilename: originalFilename(req.Filename, fileID, key),
		StoredPath:       key,
		SizeBytes:        req.Size,
		MimeType:         mimeType,
		Kind:             kind,
		Status:           model.StatusUploading,
		ScanStatus:       model.ScanPending,
		UploadedBy:       req.UploadedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.ResponseID != "" {
		responseID := req.ResponseID
		rec.ResponseID = &responseID
	}
	if err := s.records.Create(ctx, rec); err != nil {
		rollback(true)
		return nil, fmt.Errorf("create upload record: %w", err)
	}

	// Dispatchers never wait for capacity. A file that does not reach the
	// queue stays uploading and the periodic requeue sweep offers it again;
	// the upload itself already succeeded.
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), fileID); err != nil {
		log.Warn("dispatch processing", zap.Error(err))
	}

	s.notifier.Publish(ctx, events.Event{
		Type:      events.FileUploaded,
		TenantID:  rec.TenantID,
		SurveyID:  rec.SurveyID,
		Timestamp: now,
		Data: map[string]any{
			"fileId":   rec.FileID,
			"fieldId":  rec.FieldID,
			"fileType": string(rec.Kind),
		},
	})
	log.Info("file uploaded",
		zap.String("survey_id", rec.SurveyID),
		zap.String("kind", string(kind)),
		zap.Int64("size", rec.SizeBytes))
	return rec, nil
}

func validateUploadRequest(req UploadRequest) error {
	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return invalid("tenantId", "is required")
	case strings.TrimSpace(req.SurveyID) == "":
		return invalid("surveyId", "is required")
	case strings.TrimSpace(req.FieldID) == "":
		return invalid("fieldId", "is required")
	case strings.TrimSpace(req.UploadedBy) == "":
		return invalid("uploadedBy", "is required")
	case req.Content == nil || req.Size <= 0:
		return invalid("file", "file is empty")
	}
	return nil
}

func originalFilename(name, fileID, key string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if i := strings.LastIndexByte(key, '.'); i > strings.LastIndexByte(key, '/') {
		return fileID + key[i:]
	}
	return fileID
}

func uploadOutcome(err error) string {
	var validation *ValidationError
	var exceeded *QuotaExceededError
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &exceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

// GetFile returns an active record with its access URL resolved.
func (s *Service) GetFile(ctx context.Context, tenantID, surveyID, fileID string) (*model.UploadRecord, error) {
	rec, err := s.active(ctx, tenantID, surveyID, fileID)
	if err != nil {
		return nil, err
	}
	// A quarantined record is still described, just without links.
	if _, err := s.issuer.URLFor(ctx, rec); err != nil && !errors.Is(err, ErrQuarantined) {
		return nil, err
	}
	s.issuer.ThumbnailURLFor(ctx, rec)
	return rec, nil
}

// GetAccessURL returns the file's access URL, reusing the cached one while it
// is still valid.
func (s *Service) GetAccessURL(ctx context.Context, tenantID, surveyID, fileID string) (AccessURL, error) {
	rec, err := s.active(ctx, tenantID, surveyID, fileID)
	if err != nil {
		return AccessURL{}, err
	}
	return s.issuer.URLFor(ctx, rec)
}

// DeleteFile soft deletes the record and removes its objects. Deleting an
// already deleted file succeeds without doing anything.
func (s *Service) DeleteFile(ctx context.Context, tenantID, surveyID, fileID, userID string) error {
	rec, err := s.owned(ctx, tenantID, surveyID, fileID)
	if err != nil {
		return err
	}
	if rec.Deleted() {
		return nil
	}
	deleted, prev, err := s.records.SoftDelete(ctx, fileID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("soft delete: %w", err)
	}
	if prev == model.StatusDeleted {
		return nil
	}

	log := s.logger.With(zap.String("file_id", fileID), zap.String("tenant_id", tenantID))
	cleanup := context.WithoutCancel(ctx)
	// A quarantined file already gave its bytes back.
	quarantined := prev == model.StatusFailed && deleted.ScanStatus == model.ScanInfected
	if !quarantined {
		if err := s.ledger.Release(cleanup, tenantID, deleted.SizeBytes); err != nil {
			log.Error("release quota", zap.Int64("bytes", deleted.SizeBytes), zap.Error(err))
		}
	}
	for _, key := range []string{deleted.StoredPath, deleted.ThumbnailPath()} {
		if key == "" {
			continue
		}
		if err := s.backend.Delete(cleanup, key); err != nil {
			log.Warn("remove object", zap.String("key", key), zap.Error(err))
		}
	}

	s.notifier.Publish(ctx, events.Event{
		Type:      events.FileDeleted,
		TenantID:  tenantID,
		SurveyID:  surveyID,
		Timestamp: s.now().UTC(),
		Data: map[string]any{
			"fileId":    fileID,
			"deletedBy": userID,
		},
	})
	log.Info("file deleted", zap.String("deleted_by", userID), zap.String("previous_status", string(prev)))
	return nil
}

// ListFilter narrows ListFiles within one survey.
type ListFilter struct {
	ResponseID string
	FieldID    string
	UploadedBy string
	Limit      int
}

// ListFiles returns the survey's active files, newest first.
func (s *Service) ListFiles(ctx context.Context, tenantID, surveyID string, f ListFilter) ([]*model.UploadRecord, error) {
	if tenantID == "" || surveyID == "" {
		return nil, invalid("", "tenantId and surveyId are required")
	}
	recs, err := s.records.List(ctx, repository.ListFilter{
		TenantID:   tenantID,
		SurveyID:   surveyID,
		ResponseID: f.ResponseID,
		FieldID:    f.FieldID,
		UploadedBy: f.UploadedBy,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return recs, nil
}

// Requeue dispatches files that have been uploading for longer than olderThan.
// The pipeline's claim makes a duplicate dispatch harmless.
func (s *Service) Requeue(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.records.ListStale(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale uploads: %w", err)
	}
	n := 0
	for _, rec := range stale {
		if err := s.dispatcher.Dispatch(ctx, rec.FileID); err != nil {
			return n, fmt.Errorf("dispatch %s: %w", rec.FileID, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) owned(ctx context.Context, tenantID, surveyID, fileID string) (*model.UploadRecord, error) {
	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load file: %w", err)
	}
	if rec.TenantID != tenantID || rec.SurveyID != surveyID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) active(ctx context.Context, tenantID, surveyID, fileID string) (*model.UploadRecord, error) {
	rec, err := s.owned(ctx, tenantID, surveyID, fileID)
	if err != nil {
		return nil, err
	}
	if rec.Deleted() {
		return nil, ErrNotFound
	}
	return rec, nil
}
