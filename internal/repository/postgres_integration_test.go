package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/database"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
	"github.com/dharsanguruparan/surveyfiles/internal/quota"
)

// setupPostgres starts a throwaway Postgres and applies the migrations.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("surveyfiles_test"),
		postgres.WithUsername("surveyfiles"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(dsn, zap.NewNop()))
	require.NoError(t, database.Migrate(dsn, zap.NewNop()), "migrations are idempotent")

	pool, err := database.Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStoreLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	s := NewPostgresStore(pool)

	rec := newRecord("f1")
	resp := "r1"
	rec.ResponseID = &resp
	require.NoError(t, s.Create(ctx, rec))

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	claimed, ok, err := s.Claim(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusProcessing, claimed.Status)

	_, ok, err = s.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	thumb := "t1/f1_thumb.jpg"
	ok, err = s.Complete(ctx, "f1", Completion{
		ScanStatus: model.ScanClean,
		ScannedAt:  time.Now().UTC(),
		Metadata:   model.Metadata{Image: &model.ImageMetadata{Width: 640, Height: 480, ThumbnailPath: &thumb}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Image)
	assert.Equal(t, 640, got.Image.Width)
	assert.Equal(t, thumb, got.ThumbnailPath())
	require.NotNil(t, got.ResponseID)
	assert.Equal(t, "r1", *got.ResponseID)

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, s.SetAccessURL(ctx, "f1", "http://x/f1", exp))
	got, _ = s.Get(ctx, "f1")
	require.NotNil(t, got.AccessURLExpiresAt)
	assert.True(t, exp.Equal(*got.AccessURLExpiresAt))

	list, err := s.List(ctx, ListFilter{TenantID: "t1", SurveyID: "s1", ResponseID: "r1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, prev, err := s.SoftDelete(ctx, "f1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, prev)
	deleted, prev, err := s.SoftDelete(ctx, "f1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, prev)
	assert.NotNil(t, deleted.DeletedAt)

	list, err = s.List(ctx, ListFilter{TenantID: "t1", SurveyID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresLedgerConditionalReserve(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	defaults := quota.DefaultPolicy()
	defaults.MaxStorageBytes = 100
	l := quota.NewPostgresLedger(pool, defaults)

	e, err := l.Entry(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), e.MaxStorageBytes)
	assert.Contains(t, e.AllowedImageTypes, "image/png")

	require.NoError(t, l.Reserve(ctx, "t1", 99))
	assert.ErrorIs(t, l.Reserve(ctx, "t1", 2), quota.ErrExceeded)
	require.NoError(t, l.Reserve(ctx, "t1", 1))

	ok, err := l.Available(ctx, "t1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "t1", 500))
	e, err = l.Entry(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, e.CurrentStorageBytes)
}
