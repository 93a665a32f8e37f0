package model

// ProjectStatus is the aggregate status of a project
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusError      ProjectStatus = "error"
)

// ClipStatus is the state of a single clip workflow
type ClipStatus string

const (
	ClipStatusPending         ClipStatus = "pending"
	ClipStatusGeneratingImage ClipStatus = "generating_image"
	ClipStatusReviewingImage  ClipStatus = "reviewing_image"
	ClipStatusUploadingAsset  ClipStatus = "uploading_asset"
	ClipStatusGeneratingVideo ClipStatus = "generating_video"
	ClipStatusCompleted       ClipStatus = "completed"
	ClipStatusFailed          ClipStatus = "failed"
	ClipStatusSkipped         ClipStatus = "skipped"
)

// clipTransitions lists the forward moves of the clip state machine.
// Failure is handled separately in CanTransitionTo.
var clipTransitions = map[ClipStatus][]ClipStatus{
	ClipStatusPending:         {ClipStatusGeneratingImage},
	ClipStatusGeneratingImage: {ClipStatusReviewingImage, ClipStatusUploadingAsset},
	ClipStatusReviewingImage:  {ClipStatusUploadingAsset},
	ClipStatusUploadingAsset:  {ClipStatusGeneratingVideo},
	ClipStatusGeneratingVideo: {ClipStatusCompleted},
	ClipStatusFailed:          {ClipStatusSkipped},
}

// IsTerminal reports whether no further automatic transition happens from s
func (s ClipStatus) IsTerminal() bool {
	switch s {
	case ClipStatusCompleted, ClipStatusFailed, ClipStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows s → next
func (s ClipStatus) CanTransitionTo(next ClipStatus) bool {
	if next == ClipStatusFailed {
		return !s.IsTerminal()
	}
	for _, allowed := range clipTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RemoteJobStatus is the status tag reported by the generation service
type RemoteJobStatus string

const (
	RemoteJobCreated   RemoteJobStatus = "created"
	RemoteJobStarted   RemoteJobStatus = "started"
	RemoteJobCompleted RemoteJobStatus = "completed"
	RemoteJobFailed    RemoteJobStatus = "failed"
)

// IsTerminal returns true for completed and failed jobs
func (s RemoteJobStatus) IsTerminal() bool {
	return s == RemoteJobCompleted || s == RemoteJobFailed
}
