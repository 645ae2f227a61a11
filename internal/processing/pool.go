package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
)

var (
	// ErrPoolStopped is returned by Dispatch once the pool has shut down.
	ErrPoolStopped = errors.New("processing pool stopped")
	// ErrQueueFull is returned by Dispatch when every queue slot is taken.
	ErrQueueFull = errors.New("processing queue full")
)

// Runner processes one file. *Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, fileID string) error
}

// Job represents background processing work.
type Job struct {
	FileID string
}

// Pool is the in-process dispatcher: a bounded channel drained by a fixed
// number of goroutines. Jobs for different files run concurrently; each job
// runs its stages sequentially.
type Pool struct {
	runner  Runner
	queue   chan Job
	workers int
	logger  *zap.Logger

	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewPool builds a Pool. queueSize bounds how many jobs may wait for a worker.
func NewPool(runner Runner, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		runner:  runner,
		queue:   make(chan Job, queueSize),
		workers: workers,
		logger:  logger.Named("pool"),
		stopped: make(chan struct{}),
	}
}

// Start launches worker goroutines. They stop taking new jobs when ctx is
// cancelled; jobs already running are allowed to finish.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		p.once.Do(func() { close(p.stopped) })
	}()
}

// Dispatch queues fileID without waiting. When the queue is full the job is
// refused with ErrQueueFull; the record stays uploading until the periodic
// requeue sweep offers it again.
func (p *Pool) Dispatch(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch %s: %w", fileID, err)
	}
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queue <- Job{FileID: fileID}:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return fmt.Errorf("dispatch %s: %w", fileID, ErrQueueFull)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			metrics.QueueDepth.Set(float64(len(p.queue)))
			p.process(context.WithoutCancel(ctx), job)
		}
	}
}

// process is the job boundary: nothing a job does may take the worker down.
func (p *Pool) process(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.String("file_id", job.FileID), zap.Any("panic", r))
		}
	}()
	if err := p.runner.Run(ctx, job.FileID); err != nil {
		p.logger.Error("job failed", zap.String("file_id", job.FileID), zap.Error(err))
	}
}
