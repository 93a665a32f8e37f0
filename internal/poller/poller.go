// Package poller waits for remote generation jobs to reach a terminal status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clipstudio/api/internal/model"
)

// ErrStopped is returned when the stop channel closes while waiting
var ErrStopped = errors.New("polling stopped")

// StatusChecker queries the status of a remote job
type StatusChecker interface {
	GetJobStatus(ctx context.Context, jobID string) (*model.RemoteJob, error)
}

// ProgressFunc receives every successful non-terminal status query
type ProgressFunc func(status model.RemoteJobStatus, elapsed time.Duration)

// JobFailedError is returned when the remote job reports failure
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// TimeoutError is returned when no terminal status arrives in time
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %v", e.JobID, e.Timeout)
}

// Poller polls a StatusChecker on a fixed interval
type Poller struct {
	checker StatusChecker
	stop    <-chan struct{}
}

// New creates a Poller. A nil stop channel never fires.
func New(checker StatusChecker, stop <-chan struct{}) *Poller {
	return &Poller{checker: checker, stop: stop}
}

// PollUntilDone queries the job status every interval until it completes,
// fails, or timeout elapses. The timeout is measured from the first query.
// Query errors are logged and polling continues.
func (p *Poller) PollUntilDone(ctx context.Context, jobID string, interval, timeout time.Duration, onProgress ProgressFunc) (*model.RemoteJob, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	// Bound each query by the overall deadline so a hung request cannot
	// hold the caller past the timeout.
	queryCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	attempt := 0
	for {
		attempt++
		job, err := p.checker.GetJobStatus(queryCtx, jobID)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Poller] Poll #%d (job=%s) — transient error: %v", attempt, jobID, err)
		case job.Status == model.RemoteJobCompleted:
			log.Printf("[Poller] Poll #%d (job=%s) — completed after %v", attempt, jobID, elapsed.Round(time.Millisecond))
			return job, nil
		case job.Status == model.RemoteJobFailed:
			return nil, &JobFailedError{JobID: jobID, Message: job.Error}
		default:
			log.Printf("[Poller] Poll #%d (job=%s) — status: %s", attempt, jobID, job.Status)
			if onProgress != nil {
				onProgress(job.Status, elapsed)
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{JobID: jobID, Timeout: timeout}
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.stop:
			timer.Stop()
			log.Printf("[Poller] Poll (job=%s) — stopped", jobID)
			return nil, ErrStopped
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return nil, &TimeoutError{JobID: jobID, Timeout: timeout}
		}
	}
}
