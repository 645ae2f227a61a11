package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

func newRecord(id string) *model.UploadRecord {
	return &model.UploadRecord{
		FileID:           id,
		TenantID:         "t1",
		SurveyID:         "s1",
		FieldID:          "photo",
		OriginalFilename: "cat.png",
		StoredPath:       "t1/surveys/s1/responses/unassigned/photo/" + id + ".png",
		SizeBytes:        42,
		MimeType:         "image/png",
		Kind:             model.KindImage,
		Status:           model.StatusUploading,
		ScanStatus:       model.ScanPending,
		UploadedBy:       "u1",
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("f1")))

	rec, ok, err := s.Claim(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusProcessing, rec.Status)

	_, ok, err = s.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	thumb := "t1/x_thumb.jpg"
	ok, err = s.Complete(ctx, "f1", Completion{
		ScanStatus: model.ScanClean,
		ScannedAt:  time.Now(),
		Metadata:   model.Metadata{Image: &model.ImageMetadata{Width: 10, Height: 20, ThumbnailPath: &thumb}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err = s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, model.ScanClean, rec.ScanStatus)
	require.NotNil(t, rec.Image)
	assert.Equal(t, 10, rec.Image.Width)
	assert.NotNil(t, rec.ScannedAt)

	ok, err = s.Fail(ctx, "f1", Failure{ScanStatus: model.ScanClean, Message: "late"})
	require.NoError(t, err)
	assert.False(t, ok, "terminal records are never rewritten")
}

func TestMemoryStoreFailRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("f1")))

	ok, err := s.Fail(ctx, "f1", Failure{Message: "boom"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Claim(ctx, "f1")
	require.NoError(t, err)
	ok, err = s.Fail(ctx, "f1", Failure{ScanStatus: model.ScanInfected, Message: "Virus detected: EICAR"})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := s.Get(ctx, "f1")
	assert.Equal(t, model.StatusFailed, rec.Status)
	require.NotNil(t, rec.ProcessingError)
	assert.Equal(t, "Virus detected: EICAR", *rec.ProcessingError)
	assert.Nil(t, rec.Image)
}

func TestMemoryStoreDeleteWinsOverPipeline(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("f1")))
	_, _, _ = s.Claim(ctx, "f1")

	rec, prev, err := s.SoftDelete(ctx, "f1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, prev)
	assert.Equal(t, model.StatusDeleted, rec.Status)
	assert.NotNil(t, rec.DeletedAt)

	ok, err := s.Complete(ctx, "f1", Completion{ScanStatus: model.ScanClean})
	require.NoError(t, err)
	assert.False(t, ok)

	_, prev, err = s.SoftDelete(ctx, "f1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, prev)

	assert.ErrorIs(t, s.SetAccessURL(ctx, "f1", "http://x", time.Now()), ErrNotFound)
	_, _, err = s.SoftDelete(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := "r1"
	for i, id := range []string{"a", "b", "c", "d"} {
		rec := newRecord(id)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if id == "b" || id == "c" {
			rec.ResponseID = &resp
		}
		if id == "d" {
			rec.TenantID = "t2"
		}
		require.NoError(t, s.Create(ctx, rec))
	}
	_, _, err := s.SoftDelete(ctx, "c", time.Now())
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilter{TenantID: "t1", SurveyID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].FileID, "newest first")
	assert.Equal(t, "a", all[1].FileID)

	byResponse, err := s.List(ctx, ListFilter{TenantID: "t1", SurveyID: "s1", ResponseID: "r1"})
	require.NoError(t, err)
	require.Len(t, byResponse, 1)
	assert.Equal(t, "b", byResponse[0].FileID)

	none, err := s.List(ctx, ListFilter{TenantID: "t1", SurveyID: "s1", UploadedBy: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreListStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := newRecord("old")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, newRecord("fresh")))

	stale, err := s.ListStale(ctx, time.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].FileID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := newRecord("f1")
	require.NoError(t, s.Create(ctx, rec))
	rec.Status = model.StatusFailed

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploading, got.Status)
	got.Status = model.StatusCompleted

	again, _ := s.Get(ctx, "f1")
	assert.Equal(t, model.StatusUploading, again.Status)
}
