package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `file_id, tenant_id, survey_id, response_id, field_id,
	original_filename, stored_path, size_bytes, mime_type, kind,
	width, height, duration_seconds, codec, thumbnail_path,
	status, processing_error, scan_status, scanned_at,
	access_url, access_url_expires_at, uploaded_by, created_at, updated_at, deleted_at`

// PostgresStore wraps all SQL used by the API and the workers.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a store.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *model.UploadRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO survey_file_uploads
			(file_id, tenant_id, survey_id, response_id, field_id,
			 original_filename, stored_path, size_bytes, mime_type, kind,
			 status, scan_status, uploaded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, rec.FileID, rec.TenantID, rec.SurveyID, rec.ResponseID, rec.FieldID,
		rec.OriginalFilename, rec.StoredPath, rec.SizeBytes, rec.MimeType, string(rec.Kind),
		string(rec.Status), string(rec.ScanStatus), rec.UploadedBy, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, fileID string) (*model.UploadRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM survey_file_uploads WHERE file_id = $1`, fileID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select upload record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Claim(ctx context.Context, fileID string) (*model.UploadRecord, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE survey_file_uploads
		SET status = 'processing', updated_at = $2
		WHERE file_id = $1 AND status = 'uploading' AND deleted_at IS NULL
		RETURNING `+recordColumns, fileID, time.Now().UTC())
	rec, err := scanRecord(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("claim upload record: %w", err)
	}
	// Either the record does not exist or someone else owns it.
	rec, err = s.Get(ctx, fileID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (s *PostgresStore) Complete(ctx context.Context, fileID string, c Completion) (bool, error) {
	var (
		width, height *int
		duration      *float64
		codec, thumb  *string
	)
	if img := c.Metadata.Image; img != nil {
		width, height, thumb = &img.Width, &img.Height, img.ThumbnailPath
	}
	if vid := c.Metadata.Video; vid != nil {
		duration, thumb = &vid.DurationSeconds, vid.ThumbnailPath
		if vid.Codec != "" {
			codec = &vid.Codec
		}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE survey_file_uploads
		SET status = 'completed', scan_status = $2, scanned_at = $3,
			width = $4, height = $5, duration_seconds = $6, codec = $7, thumbnail_path = $8,
			processing_error = NULL, updated_at = $9
		WHERE file_id = $1 AND status = 'processing'
	`, fileID, string(c.ScanStatus), c.ScannedAt, width, height, duration, codec, thumb, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("complete upload record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Fail(ctx context.Context, fileID string, f Failure) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE survey_file_uploads
		SET status = 'failed', processing_error = $2, scan_status = $3,
			scanned_at = COALESCE($4, scanned_at), updated_at = $5
		WHERE file_id = $1 AND status = 'processing'
	`, fileID, f.Message, string(f.ScanStatus), f.ScannedAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("fail upload record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetAccessURL(ctx context.Context, fileID, url string, expiresAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE survey_file_uploads
		SET access_url = $2, access_url_expires_at = $3
		WHERE file_id = $1 AND deleted_at IS NULL
	`, fileID, url, expiresAt)
	if err != nil {
		return fmt.Errorf("cache access url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, fileID string, at time.Time) (*model.UploadRecord, model.FileStatus, error) {
	var prev string
	row := s.db.QueryRow(ctx, `
		UPDATE survey_file_uploads u
		SET status = 'deleted', deleted_at = $2, updated_at = $2
		FROM (SELECT file_id, status FROM survey_file_uploads WHERE file_id = $1 FOR UPDATE) prev
		WHERE u.file_id = prev.file_id AND prev.status <> 'deleted'
		RETURNING prev.status`, fileID, at)
	if err := row.Scan(&prev); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("soft delete upload record: %w", err)
		}
		prev = string(model.StatusDeleted)
	}
	rec, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	return rec, model.FileStatus(prev), nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*model.UploadRecord, error) {
	where := []string{"tenant_id = $1", "survey_id = $2", "deleted_at IS NULL"}
	args := []any{f.TenantID, f.SurveyID}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("response_id", f.ResponseID)
	add("field_id", f.FieldID)
	add("uploaded_by", f.UploadedBy)
	args = append(args, listLimit(f.Limit))

	query := fmt.Sprintf(`SELECT %s FROM survey_file_uploads WHERE %s ORDER BY created_at DESC, file_id DESC LIMIT $%d`,
		recordColumns, strings.Join(where, " AND "), len(args))
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.UploadRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM survey_file_uploads
		WHERE status = 'uploading' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, cutoff, listLimit(limit))
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*model.UploadRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	defer rows.Close()
	var out []*model.UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*model.UploadRecord, error) {
	var (
		rec                      model.UploadRecord
		kind, status, scanStatus string
		width, height            *int
		duration                 *float64
		codec, thumb             *string
	)
	err := row.Scan(&rec.FileID, &rec.TenantID, &rec.SurveyID, &rec.ResponseID, &rec.FieldID,
		&rec.OriginalFilename, &rec.StoredPath, &rec.SizeBytes, &rec.MimeType, &kind,
		&width, &height, &duration, &codec, &thumb,
		&status, &rec.ProcessingError, &scanStatus, &rec.ScannedAt,
		&rec.AccessURL, &rec.AccessURLExpiresAt, &rec.UploadedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = model.Kind(kind)
	rec.Status = model.FileStatus(status)
	rec.ScanStatus = model.ScanStatus(scanStatus)

	// Complete always writes the dimension/duration columns, so a non-null
	// value means the metadata set exists.
	switch {
	case rec.Kind == model.KindImage && width != nil:
		rec.Image = &model.ImageMetadata{Width: *width, Height: deref(height), ThumbnailPath: thumb}
	case rec.Kind == model.KindVideo && duration != nil:
		rec.Video = &model.VideoMetadata{DurationSeconds: *duration, Codec: deref(codec), ThumbnailPath: thumb}
	}
	return &rec, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
