// Package queue defines the asynq task used to hand uploads to the worker
// process when PROCESSING_DISPATCHER=asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessFileTask is scheduled once for each accepted upload.
	ProcessFileTask = "file:process"
)

// ProcessPayload is serialized into the task payload.
type ProcessPayload struct {
	FileID string `json:"file_id"`
}

// NewProcessTask builds the task for fileID. The task id is the file id so a
// duplicate enqueue for a file that is still queued is rejected by Redis.
func NewProcessTask(fileID string) (*asynq.Task, error) {
	data, err := json.Marshal(ProcessPayload{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// Failed records are terminal, so asynq must never retry a task.
	return asynq.NewTask(ProcessFileTask, data, asynq.TaskID(fileID), asynq.MaxRetry(0)), nil
}

// ParsePayload decodes a task payload.
func ParsePayload(task *asynq.Task) (ProcessPayload, error) {
	var p ProcessPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.FileID == "" {
		return p, errors.New("payload has no file id")
	}
	return p, nil
}

// Enqueuer is the subset of *asynq.Client used by Dispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher hands file ids to the asynq worker fleet.
type Dispatcher struct {
	client Enqueuer
}

func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues fileID. A task id conflict means the file is already
// queued, which is what the caller wanted.
func (d *Dispatcher) Dispatch(ctx context.Context, fileID string) error {
	task, err := NewProcessTask(fileID)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
