package model

import "time"

// EventType identifies a pipeline progress event
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventClipStatusChanged EventType = "clip_status_changed"
	EventClipCompleted     EventType = "clip_completed"
	EventClipFailed        EventType = "clip_failed"
	EventClipSkipped       EventType = "clip_skipped"
	EventImageReviewNeeded EventType = "image_review_needed"
	EventImageSelected     EventType = "image_selected"
	EventVideoProgress     EventType = "video_progress"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineError     EventType = "pipeline_error"
	EventPipelineAborted   EventType = "pipeline_aborted"
	EventInitialState      EventType = "initial_state"
	EventNoPipeline        EventType = "no_pipeline"
)

// PipelineEvent is an immutable progress record emitted by the orchestrator
type PipelineEvent struct {
	Type      EventType   `json:"type"`
	ProjectID string      `json:"projectId"`
	ClipIndex *int        `json:"clipIndex,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(eventType EventType, projectID string, clipIndex *int, data interface{}) PipelineEvent {
	return PipelineEvent{
		Type:      eventType,
		ProjectID: projectID,
		ClipIndex: clipIndex,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Event payloads

type ClipStatusData struct {
	Status ClipStatus `json:"status"`
}

type ClipErrorData struct {
	Error string `json:"error"`
}

type ClipCompletedData struct {
	VideoPath string `json:"videoPath"`
	VideoURL  string `json:"videoUrl,omitempty"`
}

type ImageReviewData struct {
	Images []ImageCandidate `json:"images"`
}

type ImageSelectedData struct {
	ImageIndex int  `json:"imageIndex"`
	Automatic  bool `json:"automatic"`
}

type VideoProgressData struct {
	JobID     string          `json:"jobId"`
	Status    RemoteJobStatus `json:"status"`
	ElapsedMs int64           `json:"elapsedMs"`
}

type PipelineStartedData struct {
	Total    int `json:"total"`
	Launched int `json:"launched"`
}

type PipelineErrorData struct {
	ClipCounts
	Error string `json:"error"`
}

type InitialStateData struct {
	Project *Project `json:"project"`
	Running bool     `json:"running"`
}

type NoPipelineData struct {
	Status ProjectStatus `json:"status"`
}
