// Package app builds the shared dependency graph used by the server, the
// asynq worker and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/config"
	"github.com/dharsanguruparan/surveyfiles/internal/database"
	"github.com/dharsanguruparan/surveyfiles/internal/events"
	"github.com/dharsanguruparan/surveyfiles/internal/ingest"
	"github.com/dharsanguruparan/surveyfiles/internal/media"
	"github.com/dharsanguruparan/surveyfiles/internal/processing"
	"github.com/dharsanguruparan/surveyfiles/internal/quota"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
	"github.com/dharsanguruparan/surveyfiles/internal/s3storage"
	"github.com/dharsanguruparan/surveyfiles/internal/scan"
	"github.com/dharsanguruparan/surveyfiles/internal/signing"
	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

// App holds the long lived dependencies.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Records repository.Store
	Ledger  quota.Ledger
	Backend storage.Backend
	// Local and Signer are set only for the local provider.
	Local  *storage.Local
	Signer *signing.Signer

	closers []func()
}

// Options tune Open.
type Options struct {
	// Migrate applies schema migrations before connecting.
	Migrate bool
	// SkipStorage leaves Backend nil, for commands that only touch the database.
	SkipStorage bool
}

// Open connects the record store, the quota ledger and the storage backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStores(ctx, opts.Migrate); err != nil {
		a.Close()
		return nil, err
	}
	if !opts.SkipStorage {
		if err := a.openBackend(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) quotaDefaults() quota.Defaults {
	q := a.Config.Quota
	return quota.Defaults{
		MaxStorageBytes:   q.MaxStorageBytes,
		MaxFileSizeBytes:  q.MaxFileSizeBytes,
		AllowedImageTypes: q.AllowedImageTypes,
		AllowedVideoTypes: q.AllowedVideoTypes,
	}
}

func (a *App) openStores(ctx context.Context, migrate bool) error {
	if a.Config.Database.Driver == config.StoreDriverMemory {
		a.Logger.Warn("using in-memory record store; data is lost on restart")
		a.Records = repository.NewMemoryStore()
		a.Ledger = quota.NewMemoryLedger(a.quotaDefaults())
		return nil
	}
	if migrate {
		if err := database.Migrate(a.Config.Database.URL, a.Logger.Named("migrate")); err != nil {
			return err
		}
	}
	pool, err := database.Connect(ctx, a.Config.Database.URL, a.Config.Database.MaxConns)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	a.Records = repository.NewPostgresStore(pool)
	a.Ledger = quota.NewPostgresLedger(pool, a.quotaDefaults())
	return nil
}

func (a *App) openBackend(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.Provider {
	case config.ProviderLocal:
		var opts []storage.LocalOption
		if len(sc.SigningSecret) > 0 {
			a.Signer = signing.NewSigner(sc.SigningSecret)
			opts = append(opts, storage.WithSigner(a.Signer))
		}
		local, err := storage.NewLocal(sc.LocalPath, sc.PublicURL, opts...)
		if err != nil {
			return err
		}
		a.Local = local
		a.Backend = local
	case config.ProviderMinio:
		m, err := s3storage.NewMinio(s3storage.MinioConfig{
			Endpoint:        sc.S3.Endpoint,
			Region:          sc.S3.Region,
			Bucket:          sc.S3.Bucket,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			UseSSL:          sc.S3.UseSSL,
		})
		if err != nil {
			return err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return err
		}
		a.Backend = m
	case config.ProviderS3:
		s, err := s3storage.NewS3(ctx, s3storage.S3Config{
			Endpoint:        sc.S3.Endpoint,
			Region:          sc.S3.Region,
			Bucket:          sc.S3.Bucket,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return err
		}
		a.Backend = s
	default:
		return fmt.Errorf("unknown storage provider %q", sc.Provider)
	}
	a.Logger.Info("storage backend ready", zap.String("provider", sc.Provider))
	return nil
}

// ObjectsPrefix is the URL path under which local objects are served.
func (a *App) ObjectsPrefix() string {
	u, err := url.Parse(a.Config.Storage.PublicURL)
	if err != nil || u.Path == "" {
		return "/uploads"
	}
	return u.Path
}

// Pipeline builds the processing pipeline. Media stages that are disabled or
// whose tools are missing are left out, which degrades metadata only.
func (a *App) Pipeline() *processing.Pipeline {
	cfg := a.Config
	spec := media.ThumbnailSpec{
		Width:   cfg.Image.ThumbnailWidth,
		Height:  cfg.Image.ThumbnailHeight,
		Quality: cfg.Image.ThumbnailQuality,
	}
	deps := processing.Deps{
		Records: a.Records,
		Backend: a.Backend,
		Ledger:  a.Ledger,
		Scanner: scan.Disabled{},
		Logger:  a.Logger,

		VideoTimeout: cfg.Video.Timeout,
	}
	if cfg.Scan.Enabled {
		deps.Scanner = scan.NewHTTPScanner(cfg.Scan.Endpoint, cfg.Scan.Timeout, a.Logger)
	}
	if cfg.Image.Enabled {
		deps.Images = media.NewImageProcessor(spec)
	}
	if cfg.Video.Enabled {
		ff, err := media.LookupFFmpeg(cfg.Video.FFprobePath, cfg.Video.FFmpegPath, spec, cfg.Video.ThumbnailOffset)
		if err != nil {
			a.Logger.Warn("video processing unavailable", zap.Error(err))
		} else {
			deps.Video = ff
		}
	}
	return processing.NewPipeline(deps)
}

// Notifier returns the Kafka notifier when enabled, otherwise a log notifier.
// The returned func flushes and closes it.
func (a *App) Notifier() (events.Notifier, func()) {
	k := a.Config.Kafka
	if !k.Enabled {
		return events.NewLogNotifier(a.Logger), func() {}
	}
	n := events.NewKafkaNotifier(k.Brokers, k.Topic, k.ClientID, a.Logger)
	return n, func() {
		if err := n.Close(); err != nil {
			a.Logger.Warn("close kafka writer", zap.Error(err))
		}
	}
}

// RedisOpt is the asynq connection for the distributed dispatcher.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	r := a.Config.Redis
	return asynq.RedisClientOpt{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// Service builds the ingestion core around dispatcher and notifier.
func (a *App) Service(dispatcher ingest.Dispatcher, notifier events.Notifier) *ingest.Service {
	return ingest.NewService(ingest.Deps{
		Records:    a.Records,
		Backend:    a.Backend,
		Ledger:     a.Ledger,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Limits: ingest.Limits{
			MaxImageBytes: a.Config.Limits.MaxImageBytes,
			MaxVideoBytes: a.Config.Limits.MaxVideoBytes,
		},
		AccessURLTTL: a.Config.Storage.AccessURLTTL,
		Logger:       a.Logger,
	})
}

// MaxUploadBytes is the largest file any tenant could be allowed to send,
// since the per-kind ceilings always apply.
func (a *App) MaxUploadBytes() int64 {
	return max(a.Config.Limits.MaxImageBytes, a.Config.Limits.MaxVideoBytes)
}
