package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clipstudio/api/internal/model"
)

// fakeGeneration is an in-memory generation service. Image errors are keyed
// by prompt; job statuses come from statusFn, defaulting to completed.
type fakeGeneration struct {
	mu         sync.Mutex
	imageErr   map[string]error
	statusFn   func(jobID string, call int) *model.RemoteJob
	onSubmit   func(prompt string)
	submitted  []string
	uploads    int
	statusCall map[string]int
}

func newFakeGeneration() *fakeGeneration {
	return &fakeGeneration{
		imageErr:   make(map[string]error),
		statusCall: make(map[string]int),
	}
}

func (f *fakeGeneration) GenerateImages(_ context.Context, prompt string, opts model.ImageOptions) (*model.ImageResult, error) {
	f.mu.Lock()
	err := f.imageErr[prompt]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := opts.Count
	if n <= 0 {
		n = 1
	}
	result := &model.ImageResult{JobID: "img-" + prompt}
	for i := 0; i < n; i++ {
		result.Media = append(result.Media, model.ImageCandidate{
			URL:  fmt.Sprintf("https://images.test/%s/%d.png", prompt, i),
			Seed: int64(i),
		})
	}
	return result, nil
}

func (f *fakeGeneration) UploadAsset(_ context.Context, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return fmt.Sprintf("asset-%d", f.uploads), nil
}

func (f *fakeGeneration) SubmitVideoJob(_ context.Context, prompt string, opts model.VideoOptions) (string, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, prompt)
	jobID := fmt.Sprintf("job-%s", prompt)
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(prompt)
	}
	return jobID, nil
}

func (f *fakeGeneration) GetJobStatus(_ context.Context, jobID string) (*model.RemoteJob, error) {
	f.mu.Lock()
	f.statusCall[jobID]++
	call := f.statusCall[jobID]
	fn := f.statusFn
	f.mu.Unlock()

	if fn != nil {
		return fn(jobID, call), nil
	}
	return completedJob(jobID), nil
}

func (f *fakeGeneration) submittedPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func completedJob(jobID string) *model.RemoteJob {
	payload, _ := json.Marshal(model.VideoJobResult{VideoURL: "https://videos.test/" + jobID + ".mp4"})
	return &model.RemoteJob{ID: jobID, Status: model.RemoteJobCompleted, Payload: payload}
}

// fakeMedia records downloads without touching the disk
type fakeMedia struct {
	mu      sync.Mutex
	fetched []string
}

func (m *fakeMedia) ImagePath(projectID string, clipIndex int) string {
	return fmt.Sprintf("/media/%s/clip-%d-image", projectID, clipIndex)
}

func (m *fakeMedia) VideoPath(projectID string, clipIndex int) string {
	return fmt.Sprintf("/media/%s/clip-%d.mp4", projectID, clipIndex)
}

func (m *fakeMedia) Fetch(_ context.Context, sourceURL, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, sourceURL)
	return nil
}

func (m *fakeMedia) Read(string) ([]byte, string, error) {
	return []byte("\x89PNG"), "image/png", nil
}

func (m *fakeMedia) fetchedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

// recorder captures published events and optionally reacts to them
type recorder struct {
	mu     sync.Mutex
	events []model.PipelineEvent
	on     func(evt model.PipelineEvent)
}

func (r *recorder) Publish(evt model.PipelineEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	hook := r.on
	r.mu.Unlock()
	if hook != nil {
		hook(evt)
	}
}

func (r *recorder) all() []model.PipelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PipelineEvent(nil), r.events...)
}

// forClip returns the event types of clip i in publish order
func (r *recorder) forClip(i int) []string {
	var out []string
	for _, evt := range r.all() {
		if evt.ClipIndex == nil || *evt.ClipIndex != i {
			continue
		}
		name := string(evt.Type)
		if data, ok := evt.Data.(model.ClipStatusData); ok {
			name += "(" + string(data.Status) + ")"
		}
		out = append(out, name)
	}
	return out
}

func (r *recorder) ofType(t model.EventType) []model.PipelineEvent {
	var out []model.PipelineEvent
	for _, evt := range r.all() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

type countingSink struct {
	mu    sync.Mutex
	count int
	last  *model.Project
}

func (s *countingSink) Submit(p *model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.last = p
}

// historySink keeps every submitted snapshot in submission order
type historySink struct {
	mu        sync.Mutex
	snapshots []*model.Project
}

func (s *historySink) Submit(p *model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, p)
}

func (s *historySink) all() []*model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Project(nil), s.snapshots...)
}

func newProject(clips int) *model.Project {
	p := &model.Project{
		ID:     "proj-1",
		Name:   "test",
		Status: model.ProjectStatusDraft,
	}
	for i := 0; i < clips; i++ {
		p.Clips = append(p.Clips, model.Clip{
			Index:       i,
			ImagePrompt: fmt.Sprintf("image%d", i),
			VideoPrompt: fmt.Sprintf("video%d", i),
			Status:      model.ClipStatusPending,
		})
	}
	return p
}

// fakeArtifacts records mirrored keys; err fails every upload
type fakeArtifacts struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *fakeArtifacts) UploadFile(_ context.Context, key, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.keys = append(a.keys, key)
	return "https://cdn.test/" + key, nil
}

type harness struct {
	gen       *fakeGeneration
	media     *fakeMedia
	events    *recorder
	sink      *countingSink
	artifacts ArtifactUploader
}

func newHarness() *harness {
	return &harness{
		gen:    newFakeGeneration(),
		media:  &fakeMedia{},
		events: &recorder{},
		sink:   &countingSink{},
	}
}

func (h *harness) orchestrator(p *model.Project, opts Options) *Orchestrator {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.VideoTimeout == 0 {
		opts.VideoTimeout = 2 * time.Second
	}
	return NewOrchestrator(p, Deps{
		Generation: h.gen,
		Media:      h.media,
		Events:     h.events,
		Snapshots:  h.sink,
		Artifacts:  h.artifacts,
	}, opts)
}

func assertSequence(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected events\n got: %v\nwant: %v", got, want)
	}
}
