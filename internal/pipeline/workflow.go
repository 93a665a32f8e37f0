package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/clipstudio/api/internal/model"
	"github.com/clipstudio/api/internal/poller"
)

// clipWorkflow drives one clip from pending to a terminal status
type clipWorkflow struct {
	o     *Orchestrator
	index int
}

func (w *clipWorkflow) run(ctx context.Context) {
	if err := w.execute(ctx); err != nil {
		w.fail(err)
	}
}

func (w *clipWorkflow) execute(ctx context.Context) error {
	o := w.o
	clip := o.clip(w.index)
	settings := o.settings()

	// Image generation
	if err := w.checkpoint(ctx); err != nil {
		return err
	}
	w.transition(model.ClipStatusGeneratingImage)

	count := 1
	if settings.ReviewEnabled {
		count = settings.CandidateCount
	}
	images, err := o.deps.Generation.GenerateImages(ctx, clip.ImagePrompt, model.ImageOptions{
		Model:       settings.ImageModel,
		AspectRatio: settings.AspectRatio,
		Count:       count,
	})
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}
	if len(images.Media) == 0 {
		return errors.New("image generation returned no media")
	}
	o.mutateClip(w.index, func(c *model.Clip) {
		c.Images = append([]model.ImageCandidate(nil), images.Media...)
	})

	// Review
	chosen := 0
	if settings.ReviewEnabled && len(images.Media) > 1 {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}
		chosen, err = w.review(images.Media)
		if err != nil {
			return err
		}
	}

	// Asset upload
	if err := w.checkpoint(ctx); err != nil {
		return err
	}
	w.transition(model.ClipStatusUploadingAsset)

	imagePath := o.deps.Media.ImagePath(o.ProjectID(), w.index)
	if err := o.deps.Media.Fetch(ctx, images.Media[chosen].URL, imagePath); err != nil {
		return fmt.Errorf("image download failed: %w", err)
	}
	data, contentType, err := o.deps.Media.Read(imagePath)
	if err != nil {
		return err
	}
	assetRef, err := o.deps.Generation.UploadAsset(ctx, data, contentType)
	if err != nil {
		return fmt.Errorf("asset upload failed: %w", err)
	}
	o.mutateClip(w.index, func(c *model.Clip) {
		c.ImagePath = imagePath
		c.AssetRef = assetRef
		c.Images[chosen].AssetRef = assetRef
	})

	// Video generation
	if err := w.checkpoint(ctx); err != nil {
		return err
	}
	w.transition(model.ClipStatusGeneratingVideo)

	jobID, err := o.deps.Generation.SubmitVideoJob(ctx, clip.VideoPrompt, model.VideoOptions{
		StartImageRef: assetRef,
		AspectRatio:   settings.AspectRatio,
	})
	if err != nil {
		return fmt.Errorf("video submission failed: %w", err)
	}
	o.mutateClip(w.index, func(c *model.Clip) {
		c.VideoJobID = jobID
	})
	o.persist()

	p := poller.New(o.deps.Generation, o.abortCh)
	job, err := p.PollUntilDone(ctx, jobID, o.opts.PollInterval, o.opts.VideoTimeout,
		func(status model.RemoteJobStatus, elapsed time.Duration) {
			o.emit(model.EventVideoProgress, w.clipIndex(), model.VideoProgressData{
				JobID:     jobID,
				Status:    status,
				ElapsedMs: elapsed.Milliseconds(),
			})
		})
	if errors.Is(err, poller.ErrStopped) {
		return ErrAborted
	}
	if err != nil {
		return err
	}

	var result model.VideoJobResult
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &result); err != nil {
			return fmt.Errorf("invalid video job payload: %w", err)
		}
	}
	if result.VideoURL == "" {
		return fmt.Errorf("video job %s completed without a video url", jobID)
	}

	videoPath := o.deps.Media.VideoPath(o.ProjectID(), w.index)
	if err := o.deps.Media.Fetch(ctx, result.VideoURL, videoPath); err != nil {
		return fmt.Errorf("video download failed: %w", err)
	}
	videoURL := w.mirror(ctx, videoPath, result.VideoURL)

	o.mutateClip(w.index, func(c *model.Clip) {
		if !c.Status.CanTransitionTo(model.ClipStatusCompleted) {
			log.Printf("[Pipeline] Clip %d: unexpected transition %s → %s", w.index, c.Status, model.ClipStatusCompleted)
		}
		c.Status = model.ClipStatusCompleted
		c.VideoPath = videoPath
		c.VideoURL = videoURL
	})
	log.Printf("[Pipeline] Clip %d of project %s completed", w.index, o.ProjectID())
	o.emit(model.EventClipCompleted, w.clipIndex(), model.ClipCompletedData{
		VideoPath: videoPath,
		VideoURL:  videoURL,
	})
	return nil
}

// review suspends the clip until a selection arrives or the review times out
func (w *clipWorkflow) review(candidates []model.ImageCandidate) (int, error) {
	o := w.o
	gate := o.openGate(w.index, len(candidates))
	defer o.closeGate(w.index)

	w.transition(model.ClipStatusReviewingImage)
	o.emit(model.EventImageReviewNeeded, w.clipIndex(), model.ImageReviewData{
		Images: append([]model.ImageCandidate(nil), candidates...),
	})

	chosen, automatic, err := gate.Wait(o.opts.ReviewTimeout, o.abortCh)
	if err != nil {
		return 0, err
	}
	if automatic {
		log.Printf("[Pipeline] Clip %d: review timed out, using candidate 0", w.index)
	}

	o.mutateClip(w.index, func(c *model.Clip) {
		idx := chosen
		c.SelectedImageIndex = &idx
	})
	o.emit(model.EventImageSelected, w.clipIndex(), model.ImageSelectedData{
		ImageIndex: chosen,
		Automatic:  automatic,
	})
	return chosen, nil
}

// mirror copies the finished video to the artifact store when one is
// configured and returns the URL to record
func (w *clipWorkflow) mirror(ctx context.Context, videoPath, remoteURL string) string {
	if w.o.deps.Artifacts == nil {
		return remoteURL
	}
	key := fmt.Sprintf("projects/%s/clips/%d.mp4", w.o.ProjectID(), w.index)
	publicURL, err := w.o.deps.Artifacts.UploadFile(ctx, key, videoPath)
	if err != nil {
		log.Printf("[Pipeline] Clip %d: mirror to artifact store failed: %v", w.index, err)
		return remoteURL
	}
	return publicURL
}

// checkpoint stops the workflow when the batch was aborted or ctx is done
func (w *clipWorkflow) checkpoint(ctx context.Context) error {
	if w.o.aborted.Load() {
		return ErrAborted
	}
	return ctx.Err()
}

func (w *clipWorkflow) transition(next model.ClipStatus) {
	w.o.mutateClip(w.index, func(c *model.Clip) {
		if !c.Status.CanTransitionTo(next) {
			log.Printf("[Pipeline] Clip %d: unexpected transition %s → %s", w.index, c.Status, next)
		}
		c.Status = next
	})
	w.o.emit(model.EventClipStatusChanged, w.clipIndex(), model.ClipStatusData{Status: next})
}

// fail records err on the clip and retires it as skipped
func (w *clipWorkflow) fail(err error) {
	msg := err.Error()
	log.Printf("[Pipeline] Clip %d of project %s failed: %s", w.index, w.o.ProjectID(), msg)

	w.o.mutateClip(w.index, func(c *model.Clip) {
		c.Status = model.ClipStatusFailed
		c.Error = msg
	})
	w.o.emit(model.EventClipFailed, w.clipIndex(), model.ClipErrorData{Error: msg})

	w.o.mutateClip(w.index, func(c *model.Clip) {
		c.Status = model.ClipStatusSkipped
	})
	w.o.emit(model.EventClipSkipped, w.clipIndex(), model.ClipErrorData{Error: msg})
}

func (w *clipWorkflow) clipIndex() *int {
	idx := w.index
	return &idx
}
