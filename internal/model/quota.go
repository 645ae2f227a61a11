package model

import (
	"slices"
	"strings"
	"time"
)

// QuotaEntry is the per-tenant storage ledger row.
type QuotaEntry struct {
	TenantID            string    `json:"tenantId"`
	MaxStorageBytes     int64     `json:"maxStorageBytes"`
	CurrentStorageBytes int64     `json:"currentStorageBytes"`
	MaxFileSizeBytes    int64     `json:"maxFileSizeBytes"`
	AllowedImageTypes   []string  `json:"allowedImageTypes"`
	AllowedVideoTypes   []string  `json:"allowedVideoTypes"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Remaining is the number of bytes the tenant can still store.
func (q QuotaEntry) Remaining() int64 {
	if rem := q.MaxStorageBytes - q.CurrentStorageBytes; rem > 0 {
		return rem
	}
	return 0
}

// Allows reports whether mimeType is on the allow-list for kind.
func (q QuotaEntry) Allows(kind Kind, mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch kind {
	case KindImage:
		return slices.Contains(q.AllowedImageTypes, mt)
	case KindVideo:
		return slices.Contains(q.AllowedVideoTypes, mt)
	}
	return false
}
