// Package processing runs the post-upload pipeline: virus scan first, then
// image or video inspection. Each upload is processed at most once; the
// uploading to processing claim is a compare-and-set in the record store.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/media"
	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
	"github.com/dharsanguruparan/surveyfiles/internal/quota"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
	"github.com/dharsanguruparan/surveyfiles/internal/scan"
	"github.com/dharsanguruparan/surveyfiles/internal/storage"
)

// ImageInspector decodes an image and renders its thumbnail.
type ImageInspector interface {
	Process(r io.Reader) (media.ImageInfo, error)
}

// VideoInspector probes a video file on local disk and grabs a frame.
type VideoInspector interface {
	Probe(ctx context.Context, path string) (media.VideoInfo, error)
	Thumbnail(ctx context.Context, path string, duration time.Duration) ([]byte, error)
}

// Deps wires the pipeline. Images or Video may be nil when the capability is
// switched off or its tooling is missing; that kind then completes with
// zeroed metadata.
type Deps struct {
	Records repository.Store
	Backend storage.Backend
	Ledger  quota.Ledger
	Scanner scan.Scanner
	Images  ImageInspector
	Video   VideoInspector
	Logger  *zap.Logger
	// TempDir holds downloaded copies during processing. Empty means os.TempDir.
	TempDir string
	// VideoTimeout bounds the whole video stage. Zero means no bound.
	VideoTimeout time.Duration
}

// Pipeline processes one upload record at a time per call.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

func NewPipeline(deps Deps) *Pipeline {
	if deps.Scanner == nil {
		deps.Scanner = scan.Disabled{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{
		deps:   deps,
		logger: deps.Logger.Named("pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run claims fileID and drives it to a terminal state. Processing problems
// are written to the record, never returned; the error only reports that the
// record could not be claimed or that the terminal write itself failed.
func (p *Pipeline) Run(ctx context.Context, fileID string) (err error) {
	rec, claimed, err := p.deps.Records.Claim(ctx, fileID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", fileID, err)
	}
	if !claimed {
		msg := "record claimed by another run"
		if rec.Status.Terminal() {
			msg = "record already processed"
		}
		p.logger.Debug(msg, zap.String("file_id", fileID), zap.String("status", string(rec.Status)))
		return nil
	}

	start := time.Now()
	log := p.logger.With(zap.String("file_id", fileID), zap.String("tenant_id", rec.TenantID))
	// Terminal writes must land even if the caller is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			_, err = p.fail(writeCtx, rec, repository.Failure{
				ScanStatus: rec.ScanStatus,
				Message:    fmt.Sprintf("internal error: %v", r),
			}, "failed")
		}
		metrics.PipelineDuration.WithLabelValues(string(rec.Kind)).Observe(time.Since(start).Seconds())
	}()

	local, cleanup, err := p.fetch(ctx, rec)
	if err != nil {
		log.Error("load stored file", zap.Error(err))
		_, err = p.fail(writeCtx, rec, repository.Failure{
			ScanStatus: model.ScanPending,
			Message:    fmt.Sprintf("failed to load stored file: %v", err),
		}, "failed")
		return err
	}
	defer cleanup()

	scanStatus, threat, scannedAt := p.scan(ctx, rec, local, log)
	if scanStatus == model.ScanInfected {
		log.Warn("virus detected", zap.String("threat", threat))
		failed, err := p.fail(writeCtx, rec, repository.Failure{
			ScanStatus: model.ScanInfected,
			ScannedAt:  &scannedAt,
			Message:    "Virus detected: " + threat,
		}, "infected")
		// A concurrent delete already removed the object and released its bytes.
		if failed {
			p.quarantine(writeCtx, rec, log)
		}
		return err
	}

	meta, degraded := p.inspect(ctx, rec, local, log)
	ok, err := p.deps.Records.Complete(writeCtx, rec.FileID, repository.Completion{
		ScanStatus: scanStatus,
		ScannedAt:  scannedAt,
		Metadata:   meta,
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", fileID, err)
	}
	if !ok {
		// Deleted while we were working; the thumbnail would be orphaned.
		p.abandon(writeCtx, rec, meta, log)
		return nil
	}
	outcome := "completed"
	if degraded {
		outcome = "degraded"
	}
	metrics.PipelineRuns.WithLabelValues(string(rec.Kind), outcome).Inc()
	log.Info("processing completed", zap.Bool("degraded", degraded), zap.Duration("took", time.Since(start)))
	return nil
}

// fetch copies the stored object to a local temp file. ffprobe needs a path
// and the scanner and decoders each read the content once more.
func (p *Pipeline) fetch(ctx context.Context, rec *model.UploadRecord) (string, func(), error) {
	rc, err := p.deps.Backend.Get(ctx, rec.StoredPath)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.deps.TempDir, "surveyfiles-*"+path.Ext(rec.StoredPath))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("copy stored file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// scan is fail-open: only an explicit infection verdict stops the pipeline.
func (p *Pipeline) scan(ctx context.Context, rec *model.UploadRecord, local string, log *zap.Logger) (model.ScanStatus, string, time.Time) {
	f, err := os.Open(local)
	if err != nil {
		log.Warn("virus scan skipped, cannot reopen file", zap.Error(err))
		metrics.ScanVerdicts.WithLabelValues("unavailable").Inc()
		return model.ScanClean, "", p.now()
	}
	defer f.Close()

	res, err := p.deps.Scanner.Scan(ctx, rec.StoredPath, f)
	scannedAt := p.now()
	switch {
	case err != nil:
		log.Warn("virus scanner unavailable, treating file as clean", zap.Error(err))
		metrics.ScanVerdicts.WithLabelValues("unavailable").Inc()
		return model.ScanClean, "", scannedAt
	case !res.Clean:
		metrics.ScanVerdicts.WithLabelValues("infected").Inc()
		return model.ScanInfected, res.Threat, scannedAt
	default:
		metrics.ScanVerdicts.WithLabelValues("clean").Inc()
		return model.ScanClean, "", scannedAt
	}
}

// inspect never fails the record. Decode and probe errors produce the zeroed
// metadata set for the record's kind and report degraded.
func (p *Pipeline) inspect(ctx context.Context, rec *model.UploadRecord, local string, log *zap.Logger) (model.Metadata, bool) {
	switch rec.Kind {
	case model.KindImage:
		img, degraded := p.inspectImage(ctx, rec, local, log)
		return model.Metadata{Image: img}, degraded
	case model.KindVideo:
		vid, degraded := p.inspectVideo(ctx, rec, local, log)
		return model.Metadata{Video: vid}, degraded
	default:
		panic(fmt.Sprintf("unsupported kind %q", rec.Kind))
	}
}

func (p *Pipeline) inspectImage(ctx context.Context, rec *model.UploadRecord, local string, log *zap.Logger) (*model.ImageMetadata, bool) {
	meta := &model.ImageMetadata{}
	if p.deps.Images == nil {
		return meta, true
	}
	f, err := os.Open(local)
	if err != nil {
		log.Warn("image inspection skipped", zap.Error(err))
		return meta, true
	}
	defer f.Close()

	info, err := p.deps.Images.Process(f)
	meta.Width, meta.Height = info.Width, info.Height
	if err != nil {
		log.Warn("image inspection degraded", zap.Error(err))
	}
	meta.ThumbnailPath = p.storeThumbnail(ctx, rec, info.Thumbnail, log)
	return meta, err != nil || meta.ThumbnailPath == nil
}

func (p *Pipeline) inspectVideo(ctx context.Context, rec *model.UploadRecord, local string, log *zap.Logger) (*model.VideoMetadata, bool) {
	meta := &model.VideoMetadata{}
	if p.deps.Video == nil {
		return meta, true
	}
	if p.deps.VideoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deps.VideoTimeout)
		defer cancel()
	}
	info, err := p.deps.Video.Probe(ctx, local)
	if err != nil {
		log.Warn("video probe degraded", zap.Error(err))
		return meta, true
	}
	meta.DurationSeconds = info.Duration.Seconds()
	meta.Codec = info.Codec

	frame, err := p.deps.Video.Thumbnail(ctx, local, info.Duration)
	if err != nil {
		log.Warn("video thumbnail skipped", zap.Error(err))
		return meta, true
	}
	meta.ThumbnailPath = p.storeThumbnail(ctx, rec, frame, log)
	return meta, meta.ThumbnailPath == nil
}

func (p *Pipeline) storeThumbnail(ctx context.Context, rec *model.UploadRecord, data []byte, log *zap.Logger) *string {
	if len(data) == 0 {
		return nil
	}
	key := storage.ThumbnailKey(rec.StoredPath)
	if err := p.deps.Backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		log.Warn("store thumbnail", zap.String("key", key), zap.Error(err))
		return nil
	}
	return &key
}

// fail reports whether the record actually moved to failed.
func (p *Pipeline) fail(ctx context.Context, rec *model.UploadRecord, f repository.Failure, outcome string) (bool, error) {
	ok, err := p.deps.Records.Fail(ctx, rec.FileID, f)
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", rec.FileID, err)
	}
	if !ok {
		metrics.PipelineRuns.WithLabelValues(string(rec.Kind), "abandoned").Inc()
		return false, nil
	}
	metrics.PipelineRuns.WithLabelValues(string(rec.Kind), outcome).Inc()
	p.logger.Info("processing failed", zap.String("file_id", rec.FileID), zap.String("error", f.Message))
	return true, nil
}

// quarantine removes an infected object and gives its bytes back to the
// tenant. The record stays for audit.
func (p *Pipeline) quarantine(ctx context.Context, rec *model.UploadRecord, log *zap.Logger) {
	if err := p.deps.Backend.Delete(ctx, rec.StoredPath); err != nil {
		log.Error("quarantine: delete infected object", zap.Error(err))
		return
	}
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.Release(ctx, rec.TenantID, rec.SizeBytes); err != nil {
		log.Error("quarantine: release quota", zap.Error(err))
	}
}

func (p *Pipeline) abandon(ctx context.Context, rec *model.UploadRecord, meta model.Metadata, log *zap.Logger) {
	metrics.PipelineRuns.WithLabelValues(string(rec.Kind), "abandoned").Inc()
	log.Info("record left processing before completion, discarding results")
	thumb := (&model.UploadRecord{Image: meta.Image, Video: meta.Video}).ThumbnailPath()
	if thumb == "" {
		return
	}
	if err := p.deps.Backend.Delete(ctx, thumb); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("remove orphaned thumbnail", zap.Error(err))
	}
}
