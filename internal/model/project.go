package model

import (
	"encoding/json"
	"time"
)

// Project is a batch of clips processed together by one pipeline run
type Project struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Status         ProjectStatus   `json:"status"`
	Settings       ProjectSettings `json:"settings"`
	Clips          []Clip          `json:"clips"`
	FinalVideoPath string          `json:"finalVideoPath,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ProjectSettings holds per-project generation options.
// Empty values fall back to service defaults.
type ProjectSettings struct {
	ImageModel     string `json:"imageModel,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	ReviewEnabled  bool   `json:"reviewEnabled"`
	CandidateCount int    `json:"candidateCount,omitempty"`
}

// Clip is one unit of work tracked through its own state machine
type Clip struct {
	Index              int              `json:"index"`
	ImagePrompt        string           `json:"imagePrompt"`
	VideoPrompt        string           `json:"videoPrompt"`
	Status             ClipStatus       `json:"status"`
	Error              string           `json:"error,omitempty"`
	RetryCount         int              `json:"retryCount"`
	Images             []ImageCandidate `json:"images,omitempty"`
	SelectedImageIndex *int             `json:"selectedImageIndex,omitempty"`
	ImagePath          string           `json:"imagePath,omitempty"`
	AssetRef           string           `json:"assetRef,omitempty"`
	VideoJobID         string           `json:"videoJobId,omitempty"`
	VideoPath          string           `json:"videoPath,omitempty"`
	VideoURL           string           `json:"videoUrl,omitempty"`
}

// ImageCandidate is one generated still returned by the image step
type ImageCandidate struct {
	URL      string `json:"url"`
	Seed     int64  `json:"seed,omitempty"`
	AssetRef string `json:"assetRef,omitempty"`
}

// ImageOptions are passed to the image generation call
type ImageOptions struct {
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Count       int    `json:"count"`
}

// ImageResult is the response of the image generation call
type ImageResult struct {
	JobID string           `json:"jobId"`
	Media []ImageCandidate `json:"media"`
}

// VideoOptions are passed to the video job submission
type VideoOptions struct {
	StartImageRef string `json:"startImageRef"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
}

// RemoteJob is a job handle returned by the generation service
type RemoteJob struct {
	ID      string          `json:"id"`
	Status  RemoteJobStatus `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// VideoJobResult is the payload of a completed video job
type VideoJobResult struct {
	VideoURL string  `json:"videoUrl"`
	Duration float64 `json:"duration,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine
func (p *Project) Clone() *Project {
	cp := *p
	cp.Clips = make([]Clip, len(p.Clips))
	for i := range p.Clips {
		cp.Clips[i] = p.Clips[i].clone()
	}
	return &cp
}

func (c Clip) clone() Clip {
	if c.Images != nil {
		c.Images = append([]ImageCandidate(nil), c.Images...)
	}
	if c.SelectedImageIndex != nil {
		idx := *c.SelectedImageIndex
		c.SelectedImageIndex = &idx
	}
	return c
}

// ClipCounts summarises clip outcomes of a project
type ClipCounts struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

// Counts tallies completed and skipped clips
func (p *Project) Counts() ClipCounts {
	counts := ClipCounts{Total: len(p.Clips)}
	for _, clip := range p.Clips {
		switch clip.Status {
		case ClipStatusCompleted:
			counts.Completed++
		case ClipStatusSkipped, ClipStatusFailed:
			counts.Skipped++
		}
	}
	return counts
}
