package service

import (
	"errors"
	"fmt"

	"github.com/clipstudio/api/internal/store"
)

var (
	// ErrProjectNotFound is returned for unknown project IDs
	ErrProjectNotFound = store.ErrNotFound
	// ErrNoPipeline is returned when a control call targets a project with
	// no live orchestrator
	ErrNoPipeline = errors.New("no live pipeline for project")
)

// ValidationError rejects a start request before anything runs
type ValidationError struct {
	Message     string
	ClipIndexes []int
}

func (e *ValidationError) Error() string {
	if len(e.ClipIndexes) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: clips %v", e.Message, e.ClipIndexes)
}
