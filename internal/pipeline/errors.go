package pipeline

import "errors"

var (
	// ErrAlreadyRunning is returned when a batch is started twice
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrAborted is recorded on clips stopped by Abort
	ErrAborted = errors.New("pipeline aborted")
	// ErrNotAwaitingReview is returned when selecting an image for a clip
	// that has no pending review
	ErrNotAwaitingReview = errors.New("clip is not awaiting image review")
	// ErrInvalidImageIndex is returned for an out-of-range candidate index
	ErrInvalidImageIndex = errors.New("image index out of range")
)
