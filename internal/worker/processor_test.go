package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/queue"
	"github.com/dharsanguruparan/surveyfiles/internal/repository"
)

type runnerFunc func(ctx context.Context, fileID string) error

func (f runnerFunc) Run(ctx context.Context, fileID string) error { return f(ctx, fileID) }

func TestHandlerRunsPipeline(t *testing.T) {
	var got string
	p := NewProcessor(runnerFunc(func(_ context.Context, id string) error {
		got = id
		return nil
	}), zap.NewNop())

	task, err := queue.NewProcessTask("f1")
	require.NoError(t, err)
	require.NoError(t, p.Handler().ProcessTask(context.Background(), task))
	assert.Equal(t, "f1", got)
}

func TestHandlerNeverRetries(t *testing.T) {
	p := NewProcessor(runnerFunc(func(context.Context, string) error {
		return errors.New("db down")
	}), zap.NewNop())

	task, _ := queue.NewProcessTask("f1")
	err := p.Handler().ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.ProcessFileTask, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlerIgnoresUnknownRecord(t *testing.T) {
	p := NewProcessor(runnerFunc(func(context.Context, string) error {
		return fmt.Errorf("claim: %w", repository.ErrNotFound)
	}), zap.NewNop())

	task, _ := queue.NewProcessTask("f1")
	assert.NoError(t, p.Handler().ProcessTask(context.Background(), task))
}
