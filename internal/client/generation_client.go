package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/clipstudio/api/internal/config"
	"github.com/clipstudio/api/internal/model"
)

// GenerationService is the remote API surface for images, assets and videos
type GenerationService interface {
	GenerateImages(ctx context.Context, prompt string, opts model.ImageOptions) (*model.ImageResult, error)
	UploadAsset(ctx context.Context, data []byte, contentType string) (string, error)
	SubmitVideoJob(ctx context.Context, prompt string, opts model.VideoOptions) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*model.RemoteJob, error)
}

// APIError is a non-2xx response from the generation API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the response class is worth retrying
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GenerationClient implements GenerationService over HTTP
type GenerationClient struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	maxAttempts    int
	retryBaseDelay time.Duration
}

type generateImagesRequest struct {
	Prompt string `json:"prompt"`
	model.ImageOptions
}

type uploadAssetResponse struct {
	AssetRef string `json:"assetRef"`
}

type submitVideoRequest struct {
	Prompt string `json:"prompt"`
	model.VideoOptions
}

type submitVideoResponse struct {
	JobID string `json:"jobId"`
}

// NewGenerationClient creates a new generation API client
func NewGenerationClient(cfg *config.GenerationConfig) *GenerationClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &GenerationClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		maxAttempts:    attempts,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// GenerateImages requests opts.Count candidate stills for prompt
func (c *GenerationClient) GenerateImages(ctx context.Context, prompt string, opts model.ImageOptions) (*model.ImageResult, error) {
	body, err := json.Marshal(generateImagesRequest{Prompt: prompt, ImageOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result model.ImageResult
	if err := c.do(ctx, http.MethodPost, "/v1/images/generate", body, "application/json", c.maxAttempts, &result); err != nil {
		return nil, err
	}
	if len(result.Media) == 0 {
		return nil, fmt.Errorf("image generation returned no media")
	}
	return &result, nil
}

// UploadAsset stores image bytes remotely and returns the asset reference
func (c *GenerationClient) UploadAsset(ctx context.Context, data []byte, contentType string) (string, error) {
	var result uploadAssetResponse
	if err := c.do(ctx, http.MethodPost, "/v1/assets", data, contentType, c.maxAttempts, &result); err != nil {
		return "", err
	}
	if result.AssetRef == "" {
		return "", fmt.Errorf("asset upload returned empty reference")
	}
	return result.AssetRef, nil
}

// SubmitVideoJob starts a video generation job and returns its ID
func (c *GenerationClient) SubmitVideoJob(ctx context.Context, prompt string, opts model.VideoOptions) (string, error) {
	body, err := json.Marshal(submitVideoRequest{Prompt: prompt, VideoOptions: opts})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var result submitVideoResponse
	if err := c.do(ctx, http.MethodPost, "/v1/videos/generate", body, "application/json", c.maxAttempts, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("video submission returned empty job id")
	}
	return result.JobID, nil
}

// GetJobStatus retrieves the status of a job. It is never retried here;
// the poller treats errors as transient.
func (c *GenerationClient) GetJobStatus(ctx context.Context, jobID string) (*model.RemoteJob, error) {
	var result model.RemoteJob
	endpoint := "/v1/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, "", 1, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		result.ID = jobID
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GenerationClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// do sends the request, retrying rate-limited and server errors with
// exponential backoff up to attempts times
func (c *GenerationClient) do(ctx context.Context, method, endpoint string, body []byte, contentType string, attempts int, result interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.doOnce(ctx, method, endpoint, body, contentType, result)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(lastErr, &apiErr) || !apiErr.Retryable() || attempt == attempts {
			return lastErr
		}

		delay := c.retryBaseDelay * time.Duration(1<<(attempt-1))
		log.Printf("[Generation API] retrying %s %s in %v (attempt %d/%d)", method, endpoint, delay, attempt+1, attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c *GenerationClient) doOnce(ctx context.Context, method, endpoint string, body []byte, contentType string, result interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[Generation API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Generation API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Generation API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
