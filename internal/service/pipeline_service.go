package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipstudio/api/internal/eventbus"
	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/pipeline"
	"github.com/clipstudio/api/internal/store"
)

// Flusher waits for queued snapshot writes of a project
type Flusher interface {
	FlushProject(projectID string)
}

// PipelineService manages projects and their batch runs
type PipelineService struct {
	projects   store.ProjectStore
	bus        *eventbus.Bus
	registry   *pipeline.Registry
	deps       pipeline.Deps
	opts       pipeline.Options
	dispatcher Dispatcher
}

// NewPipelineService wires the service. deps.Events should be bus so that
// subscribers see orchestrator events.
func NewPipelineService(
	projects store.ProjectStore,
	bus *eventbus.Bus,
	registry *pipeline.Registry,
	deps pipeline.Deps,
	opts pipeline.Options,
	dispatcher Dispatcher,
) *PipelineService {
	return &PipelineService{
		projects:   projects,
		bus:        bus,
		registry:   registry,
		deps:       deps,
		opts:       opts,
		dispatcher: dispatcher,
	}
}

// CreateProject stores a new draft project
func (s *PipelineService) CreateProject(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	now := time.Now().UTC()
	project := &model.Project{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    model.ProjectStatusDraft,
		Settings:  req.Settings,
		Clips:     make([]model.Clip, len(req.Clips)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, in := range req.Clips {
		project.Clips[i] = model.Clip{
			Index:       i,
			ImagePrompt: in.ImagePrompt,
			VideoPrompt: in.VideoPrompt,
			Status:      model.ClipStatusPending,
		}
	}

	if err := s.projects.Save(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	log.Printf("[Pipeline] Created project %s with %d clips", project.ID, len(project.Clips))
	return project, nil
}

// GetProject returns the live snapshot when a batch is active, else the stored one
func (s *PipelineService) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	if o, ok := s.registry.Get(projectID); ok {
		return o.Snapshot(), nil
	}
	return s.projects.Get(ctx, projectID)
}

// ListProjects returns every stored project
func (s *PipelineService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return s.projects.List(ctx)
}

// DeleteProject removes a project that has no live batch
func (s *PipelineService) DeleteProject(ctx context.Context, projectID string) error {
	if _, ok := s.registry.Get(projectID); ok {
		return pipeline.ErrAlreadyRunning
	}
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	log.Printf("[Pipeline] Deleted project %s", projectID)
	return nil
}

// StartPipeline validates the project, reserves an orchestrator and hands it
// to the dispatcher
func (s *PipelineService) StartPipeline(ctx context.Context, projectID string, req *model.PipelineStartRequest) (*model.PipelineStartResponse, error) {
	retrySkipped := true
	if req != nil && req.RetrySkipped != nil {
		retrySkipped = *req.RetrySkipped
	}

	if _, ok := s.registry.Get(projectID); ok {
		return nil, pipeline.ErrAlreadyRunning
	}

	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := validateForRun(project); err != nil {
		return nil, err
	}

	o, err := s.registry.Reserve(projectID, func() *pipeline.Orchestrator {
		return s.newOrchestrator(project, retrySkipped)
	})
	if err != nil {
		return nil, err
	}

	payload := PipelineTaskPayload{ProjectID: projectID, RetrySkipped: retrySkipped}
	if err := s.dispatcher.Dispatch(ctx, payload); err != nil {
		s.registry.Release(projectID, o)
		return nil, err
	}

	return &model.PipelineStartResponse{
		ProjectID: projectID,
		Status:    model.ProjectStatusGenerating,
		Launched:  len(pipeline.EligibleClips(project, retrySkipped)),
		QueuedAt:  time.Now().UTC(),
	}, nil
}

// RunPipeline executes a dispatched batch and releases it afterwards. When
// the reservation was lost, e.g. after a restart, a fresh orchestrator is
// reserved from the stored project.
func (s *PipelineService) RunPipeline(ctx context.Context, payload PipelineTaskPayload) error {
	o, ok := s.registry.Get(payload.ProjectID)
	if !ok {
		project, err := s.projects.Get(ctx, payload.ProjectID)
		if err != nil {
			return err
		}
		o, err = s.registry.Reserve(payload.ProjectID, func() *pipeline.Orchestrator {
			return s.newOrchestrator(project, payload.RetrySkipped)
		})
		if err != nil {
			return err
		}
	}
	defer s.registry.Release(payload.ProjectID, o)

	_, err := o.Run(ctx)

	// Readers fall back to the store once the orchestrator is released
	if f, ok := s.deps.Snapshots.(Flusher); ok {
		f.FlushProject(payload.ProjectID)
	}
	return err
}

// AbortPipeline raises the abort flag of the live batch
func (s *PipelineService) AbortPipeline(_ context.Context, projectID string) (*model.PipelineActionResponse, error) {
	o, ok := s.registry.Get(projectID)
	if !ok {
		return nil, ErrNoPipeline
	}
	o.Abort()
	return &model.PipelineActionResponse{Success: true, ProjectID: projectID}, nil
}

// SelectImage resolves a pending image review
func (s *PipelineService) SelectImage(_ context.Context, projectID string, req *model.SelectImageRequest) (*model.PipelineActionResponse, error) {
	o, ok := s.registry.Get(projectID)
	if !ok {
		return nil, ErrNoPipeline
	}
	if err := o.SelectImage(*req.ClipIndex, *req.ImageIndex); err != nil {
		return nil, err
	}
	return &model.PipelineActionResponse{Success: true, ProjectID: projectID}, nil
}

// Status reports whether a batch is live along with the clip counts
func (s *PipelineService) Status(ctx context.Context, projectID string) (*model.PipelineStatusResponse, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	o, running := s.registry.Get(projectID)
	return &model.PipelineStatusResponse{
		ProjectID: projectID,
		Running:   running,
		Aborting:  running && o.Aborted(),
		Status:    project.Status,
		Counts:    project.Counts(),
		Observers: s.bus.SubscriberCount(projectID),
	}, nil
}

// ActivePipelines returns the number of live batches
func (s *PipelineService) ActivePipelines() int {
	return s.registry.Len()
}

// Subscribe attaches an observer. The subscription starts with
// initial_state, followed by no_pipeline when the stored project claims to
// be generating but nothing is running it.
func (s *PipelineService) Subscribe(ctx context.Context, projectID string) (*eventbus.Subscription, error) {
	stored, err := s.projects.Get(ctx, projectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var missing bool
	sub := s.bus.SubscribeWith(projectID, func() []model.PipelineEvent {
		if o, ok := s.registry.Get(projectID); ok {
			return []model.PipelineEvent{
				model.NewEvent(model.EventInitialState, projectID, nil, model.InitialStateData{
					Project: o.Snapshot(),
					Running: true,
				}),
			}
		}
		if stored == nil {
			missing = true
			return nil
		}
		events := []model.PipelineEvent{
			model.NewEvent(model.EventInitialState, projectID, nil, model.InitialStateData{Project: stored}),
		}
		if stored.Status == model.ProjectStatusGenerating {
			events = append(events, model.NewEvent(model.EventNoPipeline, projectID, nil, model.NoPipelineData{
				Status: stored.Status,
			}))
		}
		return events
	})

	if missing {
		sub.Close()
		return nil, ErrProjectNotFound
	}
	return sub, nil
}

// Shutdown aborts every live batch
func (s *PipelineService) Shutdown() {
	s.registry.AbortAll()
}

func (s *PipelineService) newOrchestrator(project *model.Project, retrySkipped bool) *pipeline.Orchestrator {
	opts := s.opts
	opts.RetrySkipped = retrySkipped
	return pipeline.NewOrchestrator(project, s.deps, opts)
}

// validateForRun rejects projects with no clips or with clips missing a prompt
func validateForRun(project *model.Project) error {
	if len(project.Clips) == 0 {
		return &ValidationError{Message: "project has no clips"}
	}
	var missing []int
	for i, clip := range project.Clips {
		if strings.TrimSpace(clip.ImagePrompt) == "" || strings.TrimSpace(clip.VideoPrompt) == "" {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Message: "clips are missing prompt text", ClipIndexes: missing}
	}
	return nil
}
