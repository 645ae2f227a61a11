package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

func TestMemoryLedgerLazyDefaults(t *testing.T) {
	l := NewMemoryLedger(DefaultPolicy())
	e, err := l.Entry(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", e.TenantID)
	assert.Equal(t, int64(10<<30), e.MaxStorageBytes)
	assert.Equal(t, int64(100<<20), e.MaxFileSizeBytes)
	assert.Zero(t, e.CurrentStorageBytes)
	assert.True(t, e.Allows(model.KindImage, "image/webp"))
	assert.True(t, e.Allows(model.KindVideo, "video/quicktime"))
}

func TestMemoryLedgerAvailableBoundary(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(DefaultPolicy())
	l.Set(model.QuotaEntry{TenantID: "t1", MaxStorageBytes: 100, CurrentStorageBytes: 99})

	ok, err := l.Available(ctx, "t1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Available(ctx, "t1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLedgerReserveRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(DefaultPolicy())
	l.Set(model.QuotaEntry{TenantID: "t1", MaxStorageBytes: 100})

	require.NoError(t, l.Reserve(ctx, "t1", 60))
	assert.ErrorIs(t, l.Reserve(ctx, "t1", 41), ErrExceeded)

	e, _ := l.Entry(ctx, "t1")
	assert.Equal(t, int64(60), e.CurrentStorageBytes, "failed reserve leaves the counter alone")

	require.NoError(t, l.Release(ctx, "t1", 100))
	e, _ = l.Entry(ctx, "t1")
	assert.Zero(t, e.CurrentStorageBytes, "release clamps at zero")
}

func TestMemoryLedgerConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(DefaultPolicy())
	l.Set(model.QuotaEntry{TenantID: "t1", MaxStorageBytes: 1000})

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(ctx, "t1", 100) == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), accepted.Load())
	e, _ := l.Entry(ctx, "t1")
	assert.Equal(t, int64(1000), e.CurrentStorageBytes)
}

func TestEntryReturnsCopy(t *testing.T) {
	l := NewMemoryLedger(DefaultPolicy())
	e, _ := l.Entry(context.Background(), "t1")
	e.AllowedImageTypes[0] = "application/pdf"
	again, _ := l.Entry(context.Background(), "t1")
	assert.Equal(t, "image/jpeg", again.AllowedImageTypes[0])
}
