package worker

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/clipstudio/api/internal/service"
)

// TaskServer is the part of asynq.Server used at startup
type TaskServer interface {
	Start(handler asynq.Handler) error
}

// NewServeMux routes pipeline:run tasks to runner
func NewServeMux(runner service.Runner) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipelineRun, NewPipelineWorker(runner).ProcessTask)
	return mux
}

// Start begins processing pipeline tasks on srv. An error means reserved
// batches would never run, so callers must not keep accepting starts.
func Start(srv TaskServer, runner service.Runner) error {
	if err := srv.Start(NewServeMux(runner)); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	return nil
}

// LogLevel maps a config log level to the asynq equivalent
func LogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
