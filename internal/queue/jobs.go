// Package queue defines the asynq tasks that schedule pipeline runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// RunPipelineTask runs the whole pipeline over one date window.
	RunPipelineTask = "pipeline:run"
)

// RunPayload is serialized into the task payload. Dates use YYYY-MM-DD.
type RunPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewRunTask builds a pipeline run task. Runs are not retried; the next
// scheduled window picks up whatever a failed run left behind.
func NewRunTask(payload RunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(RunPipelineTask, data, asynq.MaxRetry(0)), nil
}

// EnqueueRun enqueues a pipeline run and returns the task id.
func EnqueueRun(ctx context.Context, client Enqueuer, payload RunPayload) (string, error) {
	task, err := NewRunTask(payload)
	if err != nil {
		return "", err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue run task: %w", err)
	}
	return info.ID, nil
}

// DecodeRun reads the payload of a pipeline run task.
func DecodeRun(task *asynq.Task) (RunPayload, error) {
	var payload RunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}
