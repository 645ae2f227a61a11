package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, time.Hour, cfg.Storage.AccessURLTTL)
	assert.Nil(t, cfg.Storage.SigningSecret)
	assert.Equal(t, int64(10<<30), cfg.Quota.MaxStorageBytes)
	assert.Equal(t, int64(100<<20), cfg.Quota.MaxFileSizeBytes)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/gif", "image/webp"}, cfg.Quota.AllowedImageTypes)
	assert.Equal(t, []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/webm"}, cfg.Quota.AllowedVideoTypes)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxImageBytes)
	assert.Equal(t, int64(100<<20), cfg.Limits.MaxVideoBytes)
	assert.Equal(t, 200, cfg.Image.ThumbnailWidth)
	assert.Equal(t, 80, cfg.Image.ThumbnailQuality)
	assert.Equal(t, 2*time.Second, cfg.Video.ThumbnailOffset)
	assert.Equal(t, 2*time.Minute, cfg.Video.Timeout)
	assert.False(t, cfg.Scan.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, DispatcherInline, cfg.Processing.Dispatcher)
	assert.Equal(t, 4, cfg.Processing.Workers)
	assert.Equal(t, "survey-events", cfg.Kafka.Topic)
	assert.Equal(t, "survey-service", cfg.Kafka.ClientID)
	assert.True(t, cfg.Development())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_PROVIDER", "S3")
	t.Setenv("S3_BUCKET", "media")
	t.Setenv("ACCESS_URL_TTL", "15m")
	t.Setenv("ALLOWED_IMAGE_TYPES", " image/PNG , ,image/jpeg")
	t.Setenv("PROCESSING_WORKERS", "-3")
	t.Setenv("THUMBNAIL_QUALITY", "250")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("LOCAL_SIGNING_SECRET", "s3cr3t")
	t.Setenv("VIDEO_PROBE_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderS3, cfg.Storage.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Storage.AccessURLTTL)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.Quota.AllowedImageTypes)
	assert.Equal(t, 4, cfg.Processing.Workers, "invalid values fall back to the default")
	assert.Equal(t, 80, cfg.Image.ThumbnailQuality)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []byte("s3cr3t"), cfg.Storage.SigningSecret)
	assert.Equal(t, 45*time.Second, cfg.Video.Timeout)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "surveyfiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_address: \":9090\"\nprocessing_dispatcher: asynq\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, DispatcherAsynq, cfg.Processing.Dispatcher)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	cases := map[string][2]string{
		"provider":   {"STORAGE_PROVIDER", "ftp"},
		"dispatcher": {"PROCESSING_DISPATCHER", "cron"},
		"driver":     {"STORE_DRIVER", "sqlite"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(kv[0], kv[1])
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestScanRequiresEndpoint(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VIRUS_SCAN_ENABLED", "true")
	_, err := Load("")
	assert.Error(t, err)
}
