package app

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/surveyfiles/internal/api"
	"github.com/dharsanguruparan/surveyfiles/internal/config"
	"github.com/dharsanguruparan/surveyfiles/internal/ingest"
	"github.com/dharsanguruparan/surveyfiles/internal/processing"
	"github.com/dharsanguruparan/surveyfiles/internal/queue"
	"github.com/dharsanguruparan/surveyfiles/internal/worker"
)

// requeueInterval is both how often the inline dispatcher sweeps for uploads
// stuck in the uploading state and how old they must be to be offered again.
const requeueInterval = time.Minute

// Serve runs the HTTP API until ctx is cancelled. With the inline dispatcher
// the processing pool runs in the same process.
func (a *App) Serve(ctx context.Context) error {
	notifier, closeNotifier := a.Notifier()
	defer closeNotifier()

	g, ctx := errgroup.WithContext(ctx)
	var dispatcher ingest.Dispatcher
	switch a.Config.Processing.Dispatcher {
	case config.DispatcherAsynq:
		client := asynq.NewClient(a.RedisOpt())
		defer client.Close()
		dispatcher = queue.NewDispatcher(client)
	default:
		pool := processing.NewPool(a.Pipeline(), a.Config.Processing.Workers, a.Config.Processing.QueueSize, a.Logger)
		pool.Start(ctx)
		dispatcher = pool
		g.Go(func() error {
			<-ctx.Done()
			pool.Wait()
			return nil
		})
	}
	svc := a.Service(dispatcher, notifier)
	if a.Config.Processing.Dispatcher == config.DispatcherInline {
		g.Go(func() error {
			a.sweep(ctx, svc, requeueInterval)
			return nil
		})
	}

	opts := api.Options{
		Address:         a.Config.Address,
		ShutdownTimeout: a.Config.ShutdownTimeout,
		MaxUploadBytes:  a.MaxUploadBytes(),
		ObjectsPrefix:   a.ObjectsPrefix(),
	}
	if a.Local != nil {
		opts.Objects = a.Local
	}
	if a.Signer != nil {
		opts.Validator = a.Signer
	}
	server := api.New(svc, opts, a.Logger)
	g.Go(func() error { return server.Run(ctx) })
	return g.Wait()
}

// sweep re-dispatches stale uploads right away and then on every tick until
// ctx ends. It covers restarts and files refused by a full queue.
func (a *App) sweep(ctx context.Context, svc *ingest.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := svc.Requeue(ctx, every, a.Config.Processing.QueueSize)
		switch {
		case errors.Is(err, processing.ErrQueueFull):
			a.Logger.Debug("requeue stopped, queue full", zap.Int("count", n))
		case err != nil && ctx.Err() == nil:
			a.Logger.Warn("requeue stale uploads", zap.Error(err))
		case n > 0:
			a.Logger.Info("requeued stale uploads", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Work runs the asynq worker until ctx is cancelled.
func (a *App) Work(ctx context.Context) error {
	srv := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency:     a.Config.Processing.Workers,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	})
	processor := worker.NewProcessor(a.Pipeline(), a.Logger)
	if err := srv.Start(processor.Handler()); err != nil {
		return err
	}
	a.Logger.Info("worker started", zap.Int("concurrency", a.Config.Processing.Workers))
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// Requeue dispatches uploads stuck in the uploading state. With the inline
// dispatcher there is no long lived pool to hand them to, so they are
// processed here, one after another.
func (a *App) Requeue(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	var dispatcher ingest.Dispatcher
	if a.Config.Processing.Dispatcher == config.DispatcherAsynq {
		client := asynq.NewClient(a.RedisOpt())
		defer client.Close()
		dispatcher = queue.NewDispatcher(client)
	} else {
		dispatcher = runNow{runner: a.Pipeline()}
	}
	notifier, closeNotifier := a.Notifier()
	defer closeNotifier()
	return a.Service(dispatcher, notifier).Requeue(ctx, olderThan, limit)
}

type runNow struct {
	runner processing.Runner
}

func (r runNow) Dispatch(ctx context.Context, fileID string) error {
	return r.runner.Run(ctx, fileID)
}
