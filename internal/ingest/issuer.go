package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

// AccessURL is a time limited link to a stored file.
type AccessURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer hands out access URLs and caches the last one on the record, so all
// readers of a file share a single link until it expires.
type Issuer struct {
	backend storage.Backend
	records repository.Store
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewIssuer(backend storage.Backend, records repository.Store, ttl time.Duration, now func() time.Time, logger *zap.Logger) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{backend: backend, records: records, ttl: ttl, now: now, logger: logger}
}

// URLFor returns the cached URL while it is valid, otherwise presigns a new
// one and writes it back. rec is updated in place either way.
func (i *Issuer) URLFor(ctx context.Context, rec *model.UploadRecord) (AccessURL, error) {
	if rec.ScanStatus == model.ScanInfected {
		rec.AccessURL, rec.AccessURLExpiresAt = nil, nil
		return AccessURL{}, ErrQuarantined
	}
	now := i.now()
	if rec.AccessURL != nil && rec.AccessURLExpiresAt != nil && now.Before(*rec.AccessURLExpiresAt) {
		metrics.AccessURLCache.WithLabelValues("hit").Inc()
		return AccessURL{URL: *rec.AccessURL, ExpiresAt: *rec.AccessURLExpiresAt}, nil
	}
	metrics.AccessURLCache.WithLabelValues("miss").Inc()

	url, err := i.backend.Presign(ctx, rec.StoredPath, i.ttl)
	if err != nil {
		return AccessURL{}, &StorageError{Op: "presign", Err: err}
	}
	expires := now.Add(i.ttl).UTC()
	// Last writer wins; a lost update only costs another presign later.
	if err := i.records.SetAccessURL(ctx, rec.FileID, url, expires); err != nil {
		i.logger.Warn("cache access url", zap.String("file_id", rec.FileID), zap.Error(err))
	}
	rec.AccessURL = &url
	rec.AccessURLExpiresAt = &expires
	return AccessURL{URL: url, ExpiresAt: expires}, nil
}

// ThumbnailURLFor presigns the record's thumbnail, if it has one, and sets
// rec.ThumbnailURL. Thumbnail links are not cached; a failure only leaves the
// link out.
func (i *Issuer) ThumbnailURLFor(ctx context.Context, rec *model.UploadRecord) {
	key := rec.ThumbnailPath()
	if key == "" {
		return
	}
	url, err := i.backend.Presign(ctx, key, i.ttl)
	if err != nil {
		i.logger.Warn("presign thumbnail", zap.String("file_id", rec.FileID), zap.Error(err))
		return
	}
	rec.ThumbnailURL = &url
}
