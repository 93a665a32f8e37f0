package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePipelineRun = "pipeline:run"
	QueuePipeline       = "pipeline"
)

// PipelineTaskPayload is the body of a pipeline:run task
type PipelineTaskPayload struct {
	ProjectID    string `json:"projectId"`
	RetrySkipped bool   `json:"retrySkipped"`
}

// NewPipelineTask builds a pipeline:run task
func NewPipelineTask(payload PipelineTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePipelineRun, data), nil
}

// Dispatcher hands a reserved batch to whatever executes it
type Dispatcher interface {
	Dispatch(ctx context.Context, payload PipelineTaskPayload) error
}

// Runner executes a reserved batch
type Runner interface {
	RunPipeline(ctx context.Context, payload PipelineTaskPayload) error
}

// AsynqDispatcher enqueues batches on the pipeline queue
type AsynqDispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, timeout: timeout}
}

// Dispatch enqueues the batch. Runs are never retried by the queue; failed
// clips are relaunched by starting the batch again.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload PipelineTaskPayload) error {
	task, err := NewPipelineTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueuePipeline),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	log.Printf("[Dispatcher] Enqueued %s for project %s (task=%s)", TaskTypePipelineRun, payload.ProjectID, info.ID)
	return nil
}

// LocalDispatcher runs batches in a goroutine of the current process. It is
// used when Redis is unavailable.
type LocalDispatcher struct {
	runner  Runner
	timeout time.Duration
}

func NewLocalDispatcher(timeout time.Duration) *LocalDispatcher {
	return &LocalDispatcher{timeout: timeout}
}

// Bind sets the runner; it must be called before the first Dispatch
func (d *LocalDispatcher) Bind(runner Runner) {
	d.runner = runner
}

func (d *LocalDispatcher) Dispatch(_ context.Context, payload PipelineTaskPayload) error {
	if d.runner == nil {
		return fmt.Errorf("local dispatcher has no runner")
	}
	go func() {
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if err := d.runner.RunPipeline(ctx, payload); err != nil {
			log.Printf("[Dispatcher] Local run of project %s failed: %v", payload.ProjectID, err)
		}
	}()
	return nil
}
