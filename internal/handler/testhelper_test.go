package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipstudio/api/internal/auth"
	"github.com/clipstudio/api/internal/eventbus"
	"github.com/clipstudio/api/internal/handler"
	"github.com/clipstudio/api/internal/middleware"
	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/pipeline"
	"github.com/clipstudio/api/internal/service"
	"github.com/clipstudio/api/internal/store"
)

const testJWTSecret = "test-secret-for-handlers"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	service *service.PipelineService
	store   *store.MemoryStore
}

// stubGeneration completes every call immediately
type stubGeneration struct {
	mu   sync.Mutex
	jobs int
}

func (g *stubGeneration) GenerateImages(_ context.Context, prompt string, opts model.ImageOptions) (*model.ImageResult, error) {
	result := &model.ImageResult{JobID: "img"}
	for i := 0; i < opts.Count; i++ {
		result.Media = append(result.Media, model.ImageCandidate{URL: fmt.Sprintf("https://images.test/%s/%d.png", prompt, i)})
	}
	return result, nil
}

func (g *stubGeneration) UploadAsset(context.Context, []byte, string) (string, error) {
	return "asset-1", nil
}

func (g *stubGeneration) SubmitVideoJob(context.Context, string, model.VideoOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobs++
	return fmt.Sprintf("job-%d", g.jobs), nil
}

func (g *stubGeneration) GetJobStatus(_ context.Context, jobID string) (*model.RemoteJob, error) {
	return &model.RemoteJob{
		ID:      jobID,
		Status:  model.RemoteJobCompleted,
		Payload: []byte(`{"videoUrl":"https://videos.test/` + jobID + `.mp4"}`),
	}, nil
}

type stubMedia struct{}

func (stubMedia) ImagePath(projectID string, i int) string { return fmt.Sprintf("/m/%s/%d-image", projectID, i) }
func (stubMedia) VideoPath(projectID string, i int) string { return fmt.Sprintf("/m/%s/%d.mp4", projectID, i) }
func (stubMedia) Fetch(context.Context, string, string) error {
	return nil
}
func (stubMedia) Read(string) ([]byte, string, error) { return []byte("img"), "image/png", nil }

// setupApp creates a Fiber app with the same routes as main.go, backed by an
// in-memory store and an in-process dispatcher.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	projects := store.NewMemoryStore()
	snapshots := store.NewSnapshotWriter(projects, time.Second)
	bus := eventbus.New(eventbus.DefaultBuffer)

	deps := pipeline.Deps{
		Generation: &stubGeneration{},
		Media:      stubMedia{},
		Events:     bus,
		Snapshots:  snapshots,
	}
	opts := pipeline.Options{
		Concurrency:    2,
		PollInterval:   5 * time.Millisecond,
		VideoTimeout:   time.Second,
		ReviewTimeout:  time.Minute,
		CandidateCount: 3,
	}

	local := service.NewLocalDispatcher(time.Minute)
	svc := service.NewPipelineService(projects, bus, pipeline.NewRegistry(), deps, opts, local)
	local.Bind(svc)
	t.Cleanup(func() {
		svc.Shutdown()
		snapshots.Flush()
	})

	validate := validator.New()
	projectHandler := handler.NewProjectHandler(svc, validate)
	pipelineHandler := handler.NewPipelineHandler(svc, validate)
	authHandler := handler.NewAuthHandler(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil)

	app := fiber.New()
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", middleware.NewAuthMiddleware(testJWTSecret).Authenticate())
	projectRoutes := api.Group("/projects")
	projectRoutes.Post("/", projectHandler.Create)
	projectRoutes.Get("/", projectHandler.List)
	projectRoutes.Get("/:projectId", projectHandler.Get)
	projectRoutes.Delete("/:projectId", projectHandler.Delete)

	pipelineRoutes := projectRoutes.Group("/:projectId/pipeline")
	pipelineRoutes.Post("/start", rateLimiter.PipelineStartLimit(10000), pipelineHandler.Start)
	pipelineRoutes.Post("/abort", pipelineHandler.Abort)
	pipelineRoutes.Post("/select-image", pipelineHandler.SelectImage)
	pipelineRoutes.Get("/status", pipelineHandler.Status)

	return &testApp{app: app, service: svc, store: projects}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("test-user-123", "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, b)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// createProject creates a project through the API and returns its ID
func createProject(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects", body)
	assertStatus(t, resp, http.StatusCreated)
	result := parseJSON(t, resp)
	id, _ := result["id"].(string)
	if id == "" {
		t.Fatalf("expected project id in response: %v", result)
	}
	return id
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func clipStatus(t *testing.T, ta *testApp, projectID string, clip int) model.ClipStatus {
	t.Helper()
	p, err := ta.service.GetProject(context.Background(), projectID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	return p.Clips[clip].Status
}

func isRunning(t *testing.T, ta *testApp, projectID string) bool {
	t.Helper()
	st, err := ta.service.Status(context.Background(), projectID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return st.Running
}
