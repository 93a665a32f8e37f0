package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/clipstudio/api/internal/pipeline"
	"github.com/clipstudio/api/internal/service"
	"github.com/clipstudio/api/internal/store"
)

// PipelineWorker executes pipeline:run tasks
type PipelineWorker struct {
	runner service.Runner
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(runner service.Runner) *PipelineWorker {
	return &PipelineWorker{runner: runner}
}

// ProcessTask runs one batch to completion. Failures that a retry cannot fix
// are wrapped with asynq.SkipRetry.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProjectID == "" {
		return fmt.Errorf("task payload has no projectId: %w", asynq.SkipRetry)
	}

	log.Printf("[Worker] Starting pipeline for project %s", payload.ProjectID)

	err := w.runner.RunPipeline(ctx, payload)
	switch {
	case err == nil:
		log.Printf("[Worker] Pipeline for project %s finished", payload.ProjectID)
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrAlreadyRunning):
		log.Printf("[Worker] Pipeline for project %s not run: %v", payload.ProjectID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
