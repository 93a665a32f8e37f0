package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/clipstudio/api/internal/model"
)

const twoClips = `{"name":"Coastline","clips":[
	{"imagePrompt":"a lighthouse at dusk","videoPrompt":"slow pan"},
	{"imagePrompt":"waves on rocks","videoPrompt":"zoom in"}
]}`

const reviewClip = `{"name":"Review","settings":{"reviewEnabled":true},"clips":[
	{"imagePrompt":"a red fox","videoPrompt":"fox runs"}
]}`

// ==================== Projects ====================

func TestCreateProject(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects", twoClips)
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["status"] != string(model.ProjectStatusDraft) {
		t.Errorf("expected draft status, got %v", result["status"])
	}
	clips, _ := result["clips"].([]interface{})
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(clips))
	}
	first := clips[0].(map[string]interface{})
	if first["status"] != string(model.ClipStatusPending) {
		t.Errorf("expected pending clip, got %v", first["status"])
	}
}

func TestCreateProject_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name":`},
		{"missing name", `{"clips":[{"imagePrompt":"a","videoPrompt":"b"}]}`},
		{"no clips", `{"name":"Empty","clips":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects", tt.body)
			assertStatus(t, resp, http.StatusBadRequest)
			result := parseJSON(t, resp)
			errObj, _ := result["error"].(map[string]interface{})
			if errObj["code"] != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %v", errObj["code"])
			}
		})
	}
}

func TestCreateProject_RequiresAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/projects", twoClips, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)

	resp, err = doRequest(ta.app, http.MethodPost, "/api/projects", twoClips, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestGetProject_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/missing", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestListAndDeleteProjects(t *testing.T) {
	ta := setupApp(t)
	first := createProject(t, ta, twoClips)
	second := createProject(t, ta, reviewClip)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/projects", "")
	assertStatus(t, resp, http.StatusOK)
	list, _ := parseJSON(t, resp)["projects"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(list))
	}

	// a project with a live batch cannot be deleted
	resp = doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+second+"/pipeline/start", "")
	assertStatus(t, resp, http.StatusAccepted)
	resp = doAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+second, "")
	assertStatus(t, resp, http.StatusConflict)

	resp = doAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+first, "")
	assertStatus(t, resp, http.StatusNoContent)

	resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+first, "")
	assertStatus(t, resp, http.StatusNotFound)

	resp = doAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+first, "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStartedProjectIDSurvivesLaterRequests(t *testing.T) {
	ta := setupApp(t)
	running := createProject(t, ta, reviewClip)
	idle := createProject(t, ta, twoClips)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+running+"/pipeline/start", "")
	assertStatus(t, resp, http.StatusAccepted)

	for i := 0; i < 5; i++ {
		resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+idle, "")
		assertStatus(t, resp, http.StatusOK)
	}

	if isRunning(t, ta, idle) {
		t.Error("project that was never started reports running")
	}
	if !isRunning(t, ta, running) {
		t.Error("started project lost its running batch")
	}

	resp = doAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+idle, "")
	assertStatus(t, resp, http.StatusNoContent)

	resp = doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+running+"/pipeline/abort", "")
	assertStatus(t, resp, http.StatusOK)
	waitFor(t, "pipeline to stop", func() bool { return !isRunning(t, ta, running) })
}

// ==================== Pipeline ====================

func TestStartPipeline_UnknownProject(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/missing/pipeline/start", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStartPipeline_MissingPrompts(t *testing.T) {
	ta := setupApp(t)
	id := createProject(t, ta, `{"name":"Gaps","clips":[
		{"imagePrompt":"ok","videoPrompt":"ok"},
		{"imagePrompt":"  ","videoPrompt":"ok"},
		{"imagePrompt":"ok","videoPrompt":""}
	]}`)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+id+"/pipeline/start", "")
	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj, _ := result["error"].(map[string]interface{})
	details, _ := errObj["details"].(map[string]interface{})
	indexes, _ := details["clipIndexes"].([]interface{})
	if len(indexes) != 2 || indexes[0] != float64(1) || indexes[1] != float64(2) {
		t.Errorf("expected clipIndexes [1 2], got %v", details["clipIndexes"])
	}
	if isRunning(t, ta, id) {
		t.Error("rejected project must not be running")
	}
}

func TestStartPipeline_RunsToCompletion(t *testing.T) {
	ta := setupApp(t)
	id := createProject(t, ta, twoClips)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+id+"/pipeline/start", "")
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	if result["launched"] != float64(2) {
		t.Errorf("expected 2 launched clips, got %v", result["launched"])
	}

	waitFor(t, "pipeline to finish", func() bool { return !isRunning(t, ta, id) })

	resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+id+"/pipeline/status", "")
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	if status["status"] != string(model.ProjectStatusCompleted) {
		t.Errorf("expected completed, got %v", status["status"])
	}
	counts, _ := status["counts"].(map[string]interface{})
	if counts["completed"] != float64(2) || counts["skipped"] != float64(0) {
		t.Errorf("unexpected counts: %v", counts)
	}

	resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+id, "")
	assertStatus(t, resp, http.StatusOK)
	project := parseJSON(t, resp)
	clips, _ := project["clips"].([]interface{})
	for i, c := range clips {
		clip := c.(map[string]interface{})
		if clip["status"] != string(model.ClipStatusCompleted) {
			t.Errorf("clip %d: expected completed, got %v", i, clip["status"])
		}
		if clip["videoUrl"] == "" || clip["videoUrl"] == nil {
			t.Errorf("clip %d: expected a video URL", i)
		}
	}
}

func TestReviewFlow(t *testing.T) {
	ta := setupApp(t)
	id := createProject(t, ta, reviewClip)
	base := "/api/projects/" + id + "/pipeline"

	resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/start", "")
	assertStatus(t, resp, http.StatusAccepted)

	waitFor(t, "clip to await review", func() bool {
		return clipStatus(t, ta, id, 0) == model.ClipStatusReviewingImage
	})

	t.Run("second start conflicts", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/start", "")
		assertStatus(t, resp, http.StatusConflict)
	})

	t.Run("invalid selection body", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/select-image", `{"clipIndex":0}`)
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("image index out of range", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/select-image", `{"clipIndex":0,"imageIndex":7}`)
		assertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("clip not awaiting review", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/select-image", `{"clipIndex":3,"imageIndex":0}`)
		assertStatus(t, resp, http.StatusBadRequest)
	})

	resp = doAuthRequest(t, ta.app, http.MethodPost, base+"/select-image", `{"clipIndex":0,"imageIndex":2}`)
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("expected success, got %v", result)
	}

	waitFor(t, "pipeline to finish", func() bool { return !isRunning(t, ta, id) })

	p, err := ta.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stored project missing: %v", err)
	}
	clip := p.Clips[0]
	if clip.Status != model.ClipStatusCompleted {
		t.Errorf("expected completed clip, got %s", clip.Status)
	}
	if clip.SelectedImageIndex == nil || *clip.SelectedImageIndex != 2 {
		t.Errorf("expected selected image 2, got %v", clip.SelectedImageIndex)
	}
}

func TestAbortPipeline(t *testing.T) {
	ta := setupApp(t)
	id := createProject(t, ta, reviewClip)
	base := "/api/projects/" + id + "/pipeline"

	resp := doAuthRequest(t, ta.app, http.MethodPost, base+"/abort", "")
	assertStatus(t, resp, http.StatusNotFound)

	resp = doAuthRequest(t, ta.app, http.MethodPost, base+"/start", "")
	assertStatus(t, resp, http.StatusAccepted)
	waitFor(t, "clip to await review", func() bool {
		return clipStatus(t, ta, id, 0) == model.ClipStatusReviewingImage
	})

	resp = doAuthRequest(t, ta.app, http.MethodPost, base+"/abort", "")
	assertStatus(t, resp, http.StatusOK)

	waitFor(t, "pipeline to stop", func() bool { return !isRunning(t, ta, id) })

	if got := clipStatus(t, ta, id, 0); got != model.ClipStatusSkipped {
		t.Errorf("expected aborted clip to be skipped, got %s", got)
	}

	resp = doAuthRequest(t, ta.app, http.MethodPost, base+"/select-image", `{"clipIndex":0,"imageIndex":0}`)
	assertStatus(t, resp, http.StatusNotFound)
}

// ==================== Auth ====================

func TestVerify(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/auth/verify", "", map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-User-Id"); got != "test-user-123" {
		t.Errorf("expected X-User-Id test-user-123, got %q", got)
	}
	if got := resp.Header.Get("X-User-Email"); got != "test@example.com" {
		t.Errorf("expected X-User-Email test@example.com, got %q", got)
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/auth/verify", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}
