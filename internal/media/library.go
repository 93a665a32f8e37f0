// Package media manages downloaded clip artifacts on local disk.
package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Library stores media under root/<projectID>/
type Library struct {
	root       string
	httpClient *http.Client
}

// NewLibrary creates a Library rooted at dir
func NewLibrary(dir string) *Library {
	return &Library{
		root: dir,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// ImagePath is where the chosen still of a clip is stored
func (l *Library) ImagePath(projectID string, clipIndex int) string {
	return filepath.Join(l.root, projectID, fmt.Sprintf("clip-%d-image", clipIndex))
}

// VideoPath is where the generated video of a clip is stored
func (l *Library) VideoPath(projectID string, clipIndex int) string {
	return filepath.Join(l.root, projectID, fmt.Sprintf("clip-%d.mp4", clipIndex))
}

// Fetch downloads sourceURL to destPath, writing through a temp file so a
// partial download never replaces a previous artifact
func (l *Library) Fetch(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	log.Printf("[Media] Downloaded %d bytes to %s", n, destPath)
	return nil
}

// Read returns the bytes and detected content type of a local file
func (l *Library) Read(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, mimetype.Detect(data).String(), nil
}
