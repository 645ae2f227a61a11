package s3storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

var (
	_ storage.Backend = (*Minio)(nil)
	_ storage.Backend = (*S3)(nil)
)

func TestMinioPresignIsSignedAndBounded(t *testing.T) {
	m, err := NewMinio(MinioConfig{
		Endpoint: "minio.local:9000", Region: "us-east-1", Bucket: "survey-media",
		AccessKeyID: "access", SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	raw, err := m.Presign(context.Background(), "t1/surveys/s1/responses/r1/photo/f1.png", 15*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/survey-media/t1/surveys/s1/responses/r1/photo/f1.png", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestS3PresignUsesCustomEndpoint(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Endpoint: "http://localhost:9000", Region: "us-east-1", Bucket: "survey-media",
		AccessKeyID: "access", SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	raw, err := s.Presign(context.Background(), "t1/a.png", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:9000/survey-media/t1/a.png?"), raw)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}
