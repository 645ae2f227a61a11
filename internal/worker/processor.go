// Package worker adapts the processing pipeline to asynq.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/processing"
	"github.com/dharsanguruparan/surveyfiles/internal/queue"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner processing.Runner
	logger *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner processing.Runner, logger *zap.Logger) *Processor {
	return &Processor{runner: runner, logger: logger.Named("worker")}
}

// Handler registers the process task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessFileTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.runner.Run(ctx, payload.FileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("task for unknown record", zap.String("file_id", payload.FileID))
			return nil
		}
		p.logger.Error("process file", zap.String("file_id", payload.FileID), zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
