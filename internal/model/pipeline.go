package model

import "time"

// CreateProjectRequest represents the request to create a project
type CreateProjectRequest struct {
	Name     string          `json:"name" validate:"required,min=1,max=200"`
	Settings ProjectSettings `json:"settings"`
	Clips    []ClipInput     `json:"clips" validate:"required,min=1,max=100,dive"`
}

// ClipInput is the editable part of a clip
type ClipInput struct {
	ImagePrompt string `json:"imagePrompt" validate:"max=4000"`
	VideoPrompt string `json:"videoPrompt" validate:"max=4000"`
}

// PipelineStartRequest represents the request to start a batch
type PipelineStartRequest struct {
	// RetrySkipped relaunches clips skipped by an earlier run; defaults to true
	RetrySkipped *bool `json:"retrySkipped"`
}

// SelectImageRequest picks one of the review candidates of a clip
type SelectImageRequest struct {
	ClipIndex  *int `json:"clipIndex" validate:"required,min=0"`
	ImageIndex *int `json:"imageIndex" validate:"required,min=0"`
}

// PipelineStartResponse represents the response when a batch is queued
type PipelineStartResponse struct {
	ProjectID string        `json:"projectId"`
	Status    ProjectStatus `json:"status"`
	Launched  int           `json:"launched"`
	QueuedAt  time.Time     `json:"queuedAt"`
}

// PipelineStatusResponse reports the live state of a batch
type PipelineStatusResponse struct {
	ProjectID string        `json:"projectId"`
	Running   bool          `json:"running"`
	Aborting  bool          `json:"aborting"`
	Status    ProjectStatus `json:"status"`
	Counts    ClipCounts    `json:"counts"`
	Observers int           `json:"observers"`
}

// PipelineActionResponse acknowledges abort and image selection
type PipelineActionResponse struct {
	Success   bool   `json:"success"`
	ProjectID string `json:"projectId"`
}
