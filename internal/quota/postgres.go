package quota

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger stores rows in tenant_storage_quota.
type PostgresLedger struct {
	db       DBTX
	defaults Defaults
}

// NewPostgresLedger constructs a ledger over db.
func NewPostgresLedger(db DBTX, defaults Defaults) *PostgresLedger {
	return &PostgresLedger{db: db, defaults: defaults}
}

// ensure provisions a default row for tenants seen for the first time.
func (l *PostgresLedger) ensure(ctx context.Context, tenantID string) error {
	d := l.defaults
	_, err := l.db.Exec(ctx, `
		INSERT INTO tenant_storage_quota
			(tenant_id, max_storage_bytes, current_storage_bytes, max_file_size_bytes,
			 allowed_image_types, allowed_video_types, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID, d.MaxStorageBytes, d.MaxFileSizeBytes, d.AllowedImageTypes, d.AllowedVideoTypes)
	if err != nil {
		return fmt.Errorf("provision quota: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Entry(ctx context.Context, tenantID string) (model.QuotaEntry, error) {
	if err := l.ensure(ctx, tenantID); err != nil {
		return model.QuotaEntry{}, err
	}
	var e model.QuotaEntry
	err := l.db.QueryRow(ctx, `
		SELECT tenant_id, max_storage_bytes, current_storage_bytes, max_file_size_bytes,
		       allowed_image_types, allowed_video_types, updated_at
		FROM tenant_storage_quota WHERE tenant_id = $1
	`, tenantID).Scan(&e.TenantID, &e.MaxStorageBytes, &e.CurrentStorageBytes, &e.MaxFileSizeBytes,
		&e.AllowedImageTypes, &e.AllowedVideoTypes, &e.UpdatedAt)
	if err != nil {
		return model.QuotaEntry{}, fmt.Errorf("select quota: %w", err)
	}
	return e, nil
}

func (l *PostgresLedger) Available(ctx context.Context, tenantID string, bytes int64) (bool, error) {
	e, err := l.Entry(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return fits(e, bytes), nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, tenantID string, bytes int64) error {
	if bytes < 0 {
		return ErrExceeded
	}
	if err := l.ensure(ctx, tenantID); err != nil {
		return err
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE tenant_storage_quota
		SET current_storage_bytes = current_storage_bytes + $2, updated_at = now()
		WHERE tenant_id = $1 AND current_storage_bytes + $2 <= max_storage_bytes
	`, tenantID, bytes)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExceeded
	}
	return nil
}

func (l *PostgresLedger) Release(ctx context.Context, tenantID string, bytes int64) error {
	_, err := l.db.Exec(ctx, `
		UPDATE tenant_storage_quota
		SET current_storage_bytes = GREATEST(current_storage_bytes - $2, 0), updated_at = now()
		WHERE tenant_id = $1
	`, tenantID, bytes)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}
