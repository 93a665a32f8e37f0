package pipeline

import (
	"sync"
	"time"
)

// ReviewGate suspends a clip until a human picks one of its image
// candidates. It resolves at most once.
type ReviewGate struct {
	candidates int
	selected   chan int

	mu       sync.Mutex
	resolved bool
}

// NewReviewGate creates a gate for the given number of candidates
func NewReviewGate(candidates int) *ReviewGate {
	return &ReviewGate{
		candidates: candidates,
		selected:   make(chan int, 1),
	}
}

// Resolve supplies the external selection
func (g *ReviewGate) Resolve(imageIndex int) error {
	if imageIndex < 0 || imageIndex >= g.candidates {
		return ErrInvalidImageIndex
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return ErrNotAwaitingReview
	}
	g.resolved = true
	g.selected <- imageIndex
	return nil
}

// Wait blocks until a selection arrives, timeout elapses, or abort closes.
// On timeout it resolves with the first candidate and reports automatic=true.
func (g *ReviewGate) Wait(timeout time.Duration, abort <-chan struct{}) (index int, automatic bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case idx := <-g.selected:
		return idx, false, nil
	case <-abort:
		g.close()
		return 0, false, ErrAborted
	case <-timer.C:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		// A selection raced the timer; it is already buffered.
		return <-g.selected, false, nil
	}
	g.resolved = true
	return 0, true, nil
}

func (g *ReviewGate) close() {
	g.mu.Lock()
	g.resolved = true
	g.mu.Unlock()
}
