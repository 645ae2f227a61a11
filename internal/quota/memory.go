package quota

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

// MemoryLedger keeps ledger rows in a map. The mutex makes check-and-add a
// single step, matching the conditional UPDATE used by PostgresLedger.
type MemoryLedger struct {
	mu       sync.Mutex
	defaults Defaults
	entries  map[string]*model.QuotaEntry
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger(defaults Defaults) *MemoryLedger {
	return &MemoryLedger{defaults: defaults, entries: make(map[string]*model.QuotaEntry)}
}

// Set replaces a tenant's row, e.g. to provision custom limits.
func (m *MemoryLedger) Set(entry model.QuotaEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.UpdatedAt = time.Now().UTC()
	m.entries[entry.TenantID] = &entry
}

func (m *MemoryLedger) row(tenantID string) *model.QuotaEntry {
	e, ok := m.entries[tenantID]
	if !ok {
		fresh := m.defaults.entry(tenantID)
		fresh.UpdatedAt = time.Now().UTC()
		e = &fresh
		m.entries[tenantID] = e
	}
	return e
}

func (m *MemoryLedger) Entry(_ context.Context, tenantID string) (model.QuotaEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *m.row(tenantID)
	e.AllowedImageTypes = slices.Clone(e.AllowedImageTypes)
	e.AllowedVideoTypes = slices.Clone(e.AllowedVideoTypes)
	return e, nil
}

func (m *MemoryLedger) Available(_ context.Context, tenantID string, bytes int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fits(*m.row(tenantID), bytes), nil
}

func (m *MemoryLedger) Reserve(_ context.Context, tenantID string, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.row(tenantID)
	if !fits(*e, bytes) {
		return ErrExceeded
	}
	e.CurrentStorageBytes += bytes
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) Release(_ context.Context, tenantID string, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.row(tenantID)
	e.CurrentStorageBytes = max(e.CurrentStorageBytes-bytes, 0)
	e.UpdatedAt = time.Now().UTC()
	return nil
}
