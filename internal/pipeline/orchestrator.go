package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipstudio/api/internal/client"
	"github.com/clipstudio/api/internal/model"
)

// MediaStore keeps downloaded clip artifacts
type MediaStore interface {
	ImagePath(projectID string, clipIndex int) string
	VideoPath(projectID string, clipIndex int) string
	Fetch(ctx context.Context, sourceURL, destPath string) error
	Read(path string) ([]byte, string, error)
}

// Publisher delivers events to observers
type Publisher interface {
	Publish(evt model.PipelineEvent)
}

// SnapshotSink persists project snapshots asynchronously
type SnapshotSink interface {
	Submit(snapshot *model.Project)
}

// ArtifactUploader mirrors finished videos to object storage
type ArtifactUploader interface {
	UploadFile(ctx context.Context, key, path string) (string, error)
}

// Deps are the collaborators of an orchestrator
type Deps struct {
	Generation client.GenerationService
	Media      MediaStore
	Events     Publisher
	Snapshots  SnapshotSink
	Artifacts  ArtifactUploader // optional
}

// Options tune one orchestrator run
type Options struct {
	// Concurrency bounds simultaneous clip workflows; <= 0 means unbounded
	Concurrency    int
	PollInterval   time.Duration
	VideoTimeout   time.Duration
	ReviewTimeout  time.Duration
	ImageModel     string
	AspectRatio    string
	CandidateCount int
	// RetrySkipped relaunches clips skipped by an earlier run
	RetrySkipped bool
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.VideoTimeout <= 0 {
		o.VideoTimeout = 10 * time.Minute
	}
	if o.ReviewTimeout <= 0 {
		o.ReviewTimeout = 10 * time.Minute
	}
	if o.CandidateCount <= 1 {
		o.CandidateCount = 4
	}
}

// Orchestrator owns one batch run of a project
type Orchestrator struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	project *model.Project
	gates   map[int]*ReviewGate

	// persistMu keeps submitted snapshots in mutation order
	persistMu sync.Mutex

	running   atomic.Bool
	aborted   atomic.Bool
	abortOnce sync.Once
	abortCh   chan struct{}
}

// NewOrchestrator creates an orchestrator working on a private copy of project
func NewOrchestrator(project *model.Project, deps Deps, opts Options) *Orchestrator {
	opts.applyDefaults()
	if deps.Events == nil {
		deps.Events = discardPublisher{}
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		project: project.Clone(),
		gates:   make(map[int]*ReviewGate),
		abortCh: make(chan struct{}),
	}
}

// ProjectID returns the ID of the owned project
func (o *Orchestrator) ProjectID() string {
	return o.project.ID
}

// IsRunning reports whether Run is in progress
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Aborted reports whether Abort was called
func (o *Orchestrator) Aborted() bool {
	return o.aborted.Load()
}

// Abort raises the cooperative stop flag. In-flight remote calls finish;
// workflows stop at their next checkpoint.
func (o *Orchestrator) Abort() {
	o.abortOnce.Do(func() {
		o.aborted.Store(true)
		close(o.abortCh)
		log.Printf("[Pipeline] Abort requested for project %s", o.project.ID)
	})
}

// Snapshot returns a deep copy of the current project state
func (o *Orchestrator) Snapshot() *model.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.project.Clone()
}

// SelectImage resolves the pending review of a clip
func (o *Orchestrator) SelectImage(clipIndex, imageIndex int) error {
	o.mu.Lock()
	gate := o.gates[clipIndex]
	o.mu.Unlock()

	if gate == nil {
		return ErrNotAwaitingReview
	}
	return gate.Resolve(imageIndex)
}

// EligibleClips returns the indexes a run would launch
func EligibleClips(project *model.Project, retrySkipped bool) []int {
	var indexes []int
	for i, clip := range project.Clips {
		if clip.Status == model.ClipStatusCompleted {
			continue
		}
		if clip.Status == model.ClipStatusSkipped && !retrySkipped {
			continue
		}
		indexes = append(indexes, i)
	}
	return indexes
}

// Run launches a workflow for every eligible clip, waits for all of them to
// settle and returns the final project. Clip failures never surface here.
func (o *Orchestrator) Run(ctx context.Context) (*model.Project, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.mu.Lock()
	eligible := EligibleClips(o.project, o.opts.RetrySkipped)
	for _, i := range eligible {
		resetClip(&o.project.Clips[i])
	}
	o.project.Status = model.ProjectStatusGenerating
	o.project.UpdatedAt = time.Now().UTC()
	total := len(o.project.Clips)
	o.mu.Unlock()

	log.Printf("[Pipeline] Starting project %s: %d of %d clips", o.project.ID, len(eligible), total)
	o.emit(model.EventPipelineStarted, nil, model.PipelineStartedData{Total: total, Launched: len(eligible)})

	var g errgroup.Group
	if o.opts.Concurrency > 0 {
		g.SetLimit(o.opts.Concurrency)
	}
	for _, i := range eligible {
		i := i
		g.Go(func() error {
			w := &clipWorkflow{o: o, index: i}
			w.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return o.finish(), nil
}

func (o *Orchestrator) finish() *model.Project {
	o.mu.Lock()
	counts := o.project.Counts()
	if counts.Completed == 0 {
		o.project.Status = model.ProjectStatusError
	} else {
		o.project.Status = model.ProjectStatusCompleted
	}
	o.project.UpdatedAt = time.Now().UTC()
	status := o.project.Status
	o.mu.Unlock()

	switch {
	case o.aborted.Load():
		o.emit(model.EventPipelineAborted, nil, counts)
	case counts.Completed == 0:
		o.emit(model.EventPipelineError, nil, model.PipelineErrorData{ClipCounts: counts, Error: "no clips completed"})
	default:
		o.emit(model.EventPipelineCompleted, nil, counts)
	}

	log.Printf("[Pipeline] Project %s finished: status=%s completed=%d skipped=%d total=%d",
		o.project.ID, status, counts.Completed, counts.Skipped, counts.Total)
	return o.Snapshot()
}

// emit publishes an event and queues a snapshot write of the project
func (o *Orchestrator) emit(eventType model.EventType, clipIndex *int, data interface{}) {
	o.deps.Events.Publish(model.NewEvent(eventType, o.project.ID, clipIndex, data))
	o.persist()
}

// persist queues a snapshot write of the project
func (o *Orchestrator) persist() {
	if o.deps.Snapshots == nil {
		return
	}
	o.persistMu.Lock()
	defer o.persistMu.Unlock()
	o.deps.Snapshots.Submit(o.Snapshot())
}

// mutateClip applies fn to clip i under the project lock
func (o *Orchestrator) mutateClip(i int, fn func(clip *model.Clip)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.project.Clips[i])
	o.project.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) clip(i int) model.Clip {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.project.Clips[i]
}

func (o *Orchestrator) openGate(i, candidates int) *ReviewGate {
	gate := NewReviewGate(candidates)
	o.mu.Lock()
	o.gates[i] = gate
	o.mu.Unlock()
	return gate
}

func (o *Orchestrator) closeGate(i int) {
	o.mu.Lock()
	delete(o.gates, i)
	o.mu.Unlock()
}

func (o *Orchestrator) settings() model.ProjectSettings {
	o.mu.Lock()
	s := o.project.Settings
	o.mu.Unlock()

	if s.ImageModel == "" {
		s.ImageModel = o.opts.ImageModel
	}
	if s.AspectRatio == "" {
		s.AspectRatio = o.opts.AspectRatio
	}
	if s.CandidateCount <= 1 {
		s.CandidateCount = o.opts.CandidateCount
	}
	return s
}

// resetClip clears the outputs of a previous attempt
func resetClip(c *model.Clip) {
	c.Status = model.ClipStatusPending
	c.Error = ""
	c.RetryCount = 0
	c.Images = nil
	c.SelectedImageIndex = nil
	c.ImagePath = ""
	c.AssetRef = ""
	c.VideoJobID = ""
	c.VideoPath = ""
	c.VideoURL = ""
}

type discardPublisher struct{}

func (discardPublisher) Publish(model.PipelineEvent) {}
