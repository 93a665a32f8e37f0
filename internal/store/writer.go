package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clipstudio/api/internal/model"
)

// SnapshotWriter serializes snapshot writes per project. Each project has at
// most one write in flight; snapshots submitted meanwhile collapse into the
// latest one, which is written next.
type SnapshotWriter struct {
	store   ProjectStore
	timeout time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	writers map[string]*projectWriter
}

type projectWriter struct {
	pending *model.Project
}

// NewSnapshotWriter creates a writer; timeout bounds each Save call
func NewSnapshotWriter(store ProjectStore, timeout time.Duration) *SnapshotWriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &SnapshotWriter{
		store:   store,
		timeout: timeout,
		writers: make(map[string]*projectWriter),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Submit queues a snapshot for asynchronous persistence and returns at once.
// The caller must not mutate snapshot afterwards.
func (w *SnapshotWriter) Submit(snapshot *model.Project) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pw, ok := w.writers[snapshot.ID]; ok {
		pw.pending = snapshot
		return
	}
	pw := &projectWriter{pending: snapshot}
	w.writers[snapshot.ID] = pw
	go w.drain(snapshot.ID, pw)
}

func (w *SnapshotWriter) drain(projectID string, pw *projectWriter) {
	for {
		w.mu.Lock()
		snapshot := pw.pending
		pw.pending = nil
		if snapshot == nil {
			delete(w.writers, projectID)
			w.idle.Broadcast()
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.store.Save(ctx, snapshot); err != nil {
			log.Printf("[Snapshot] Failed to persist project %s: %v", projectID, err)
		}
		cancel()
	}
}

// Flush blocks until every submitted snapshot has been written
func (w *SnapshotWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.writers) > 0 {
		w.idle.Wait()
	}
}

// FlushProject blocks until the snapshots of projectID have been written
func (w *SnapshotWriter) FlushProject(projectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if _, ok := w.writers[projectID]; !ok {
			return
		}
		w.idle.Wait()
	}
}
