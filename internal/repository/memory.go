package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// MemoryStore keeps records in a map guarded by an RWMutex. Callers always
// receive copies so they cannot mutate stored state behind the lock.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*model.UploadRecord
	now   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*model.UploadRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(_ context.Context, rec *model.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	m.files[rec.FileID] = rec.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, fileID string) (*model.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Claim(_ context.Context, fileID string) (*model.UploadRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if rec.Status != model.StatusUploading || rec.DeletedAt != nil {
		return rec.Clone(), false, nil
	}
	rec.Status = model.StatusProcessing
	rec.UpdatedAt = m.now()
	return rec.Clone(), true, nil
}

func (m *MemoryStore) Complete(_ context.Context, fileID string, c Completion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != model.StatusProcessing {
		return false, nil
	}
	scanned := c.ScannedAt
	rec.Status = model.StatusCompleted
	rec.ScanStatus = c.ScanStatus
	rec.ScannedAt = &scanned
	rec.ProcessingError = nil
	meta := c.Metadata.Clone()
	rec.Image, rec.Video = meta.Image, meta.Video
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) Fail(_ context.Context, fileID string, f Failure) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != model.StatusProcessing {
		return false, nil
	}
	msg := f.Message
	rec.Status = model.StatusFailed
	rec.ProcessingError = &msg
	rec.ScanStatus = f.ScanStatus
	if f.ScannedAt != nil {
		at := *f.ScannedAt
		rec.ScannedAt = &at
	}
	rec.Image, rec.Video = nil, nil
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) SetAccessURL(_ context.Context, fileID, url string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok || rec.Deleted() {
		return ErrNotFound
	}
	rec.AccessURL = &url
	rec.AccessURLExpiresAt = &expiresAt
	return nil
}

func (m *MemoryStore) SoftDelete(_ context.Context, fileID string, at time.Time) (*model.UploadRecord, model.FileStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[fileID]
	if !ok {
		return nil, "", ErrNotFound
	}
	prev := rec.Status
	if prev == model.StatusDeleted {
		return rec.Clone(), prev, nil
	}
	rec.Status = model.StatusDeleted
	rec.DeletedAt = &at
	rec.UpdatedAt = at
	return rec.Clone(), prev, nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*model.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.UploadRecord
	for _, rec := range m.files {
		if rec.Deleted() || rec.TenantID != f.TenantID || rec.SurveyID != f.SurveyID {
			continue
		}
		if f.ResponseID != "" && (rec.ResponseID == nil || *rec.ResponseID != f.ResponseID) {
			continue
		}
		if f.FieldID != "" && rec.FieldID != f.FieldID {
			continue
		}
		if f.UploadedBy != "" && rec.UploadedBy != f.UploadedBy {
			continue
		}
		out = append(out, rec.Clone())
	}
	sortNewestFirst(out)
	if limit := listLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*model.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.UploadRecord
	for _, rec := range m.files {
		if rec.Status == model.StatusUploading && rec.CreatedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit = listLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(recs []*model.UploadRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].FileID > recs[j].FileID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
