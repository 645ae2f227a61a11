// Package quota implements the per-tenant storage ledger. Reservations are a
// single conditional increment so two concurrent uploads for the same tenant
// can never both squeeze into the last free bytes.
package quota

import (
	"context"
	"errors"
	"slices"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// ErrExceeded is returned by Reserve when the tenant has no room left.
var ErrExceeded = errors.New("storage quota exceeded")

// Ledger tracks storage usage per tenant. Tenants without a row are created
// with the configured Defaults on first access.
type Ledger interface {
	// Entry returns the tenant's policy and usage.
	Entry(ctx context.Context, tenantID string) (model.QuotaEntry, error)
	// Available reports whether bytes more would fit. It does not reserve them.
	Available(ctx context.Context, tenantID string, bytes int64) (bool, error)
	// Reserve atomically adds bytes to the tenant's usage or fails with
	// ErrExceeded leaving the counter untouched.
	Reserve(ctx context.Context, tenantID string, bytes int64) error
	// Release subtracts bytes, never going below zero.
	Release(ctx context.Context, tenantID string, bytes int64) error
}

// Defaults seed a tenant's ledger row.
type Defaults struct {
	MaxStorageBytes   int64
	MaxFileSizeBytes  int64
	AllowedImageTypes []string
	AllowedVideoTypes []string
}

// DefaultPolicy is 10 GiB of storage, 100 MiB per file and the common web
// image and video formats.
func DefaultPolicy() Defaults {
	return Defaults{
		MaxStorageBytes:   10 << 30,
		MaxFileSizeBytes:  100 << 20,
		AllowedImageTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		AllowedVideoTypes: []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/webm"},
	}
}

func (d Defaults) entry(tenantID string) model.QuotaEntry {
	return model.QuotaEntry{
		TenantID:          tenantID,
		MaxStorageBytes:   d.MaxStorageBytes,
		MaxFileSizeBytes:  d.MaxFileSizeBytes,
		AllowedImageTypes: slices.Clone(d.AllowedImageTypes),
		AllowedVideoTypes: slices.Clone(d.AllowedVideoTypes),
	}
}

func fits(e model.QuotaEntry, bytes int64) bool {
	return bytes >= 0 && e.CurrentStorageBytes+bytes <= e.MaxStorageBytes
}
