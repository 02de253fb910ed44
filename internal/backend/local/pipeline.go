package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

// ErrUnsupportedSource marks a link the pipeline can never process.
var ErrUnsupportedSource = errors.New("unsupported video source")

// Extraction is what the pipeline learns from a video.
type Extraction struct {
	Title        string
	Summary      string
	ThumbnailURL string
}

// Extractor turns a source video into an idea. Errors wrapping
// ErrUnsupportedSource fail the job permanently; anything else is treated as
// transient.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) (Extraction, error)
}

var supportedHosts = map[string]string{
	"tiktok.com":    "TikTok",
	"instagram.com": "Instagram",
	"youtube.com":   "YouTube",
	"youtu.be":      "YouTube",
}

// URLExtractor derives an idea from the link itself. It stands in for the
// download and transcription steps of a real deployment.
type URLExtractor struct{}

// Extract implements Extractor.
func (URLExtractor) Extract(ctx context.Context, sourceURL string) (Extraction, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	platform, ok := supportedHosts[host]
	if !ok {
		return Extraction{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, u.Hostname())
	}

	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "." || slug == "/" {
		slug = "video"
	}
	return Extraction{
		Title:        fmt.Sprintf("%s idea %s", platform, slug),
		Summary:      "Date idea saved from " + sourceURL,
		ThumbnailURL: "https://" + host + "/thumbnails/" + slug + ".jpg",
	}, nil
}

type pipeline struct {
	backend     *Backend
	extractor   Extractor
	stageDelay  time.Duration
	maxAttempts int
}

// run walks a claimed job through processing to a terminal state.
func (p *pipeline) run(ctx context.Context, j *storage.Job) {
	log := p.backend.logger.With(logger.String("job_id", j.ID))

	err := p.process(ctx, j)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// shutdown; the job stays in flight and is requeued on restart
		log.Info("job interrupted by shutdown")
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("job deleted while processing")
		return
	}

	retryable := !errors.Is(err, ErrUnsupportedSource)
	if retryable {
		attempts, aErr := p.backend.store.Attempts(j.ID)
		if aErr == nil && attempts+1 >= p.maxAttempts {
			retryable = false
		}
	}
	log.Warn("job failed", logger.Error(err), logger.Bool("retryable", retryable))

	if mErr := p.backend.store.MarkFailed(j, failureMessage(err), retryable); mErr != nil {
		log.Error("mark job failed", logger.Error(mErr))
		return
	}
	p.backend.publish(context.Background(), j)
}

func (p *pipeline) process(ctx context.Context, j *storage.Job) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	ex, err := p.extractor.Extract(ctx, j.SourceURL)
	if err != nil {
		return err
	}

	j.Status = storage.StatusProcessing
	j.ProgressMessage = "Finding the date idea"
	j.TitlePreview = ex.Title
	j.ThumbnailPreview = ex.ThumbnailURL
	if err := p.backend.store.Update(j); err != nil {
		return err
	}
	p.backend.publish(ctx, j)

	if err := p.wait(ctx); err != nil {
		return err
	}

	idea := &storage.Idea{
		ID:           "idea_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		JobID:        j.ID,
		Title:        ex.Title,
		Summary:      ex.Summary,
		SourceURL:    j.SourceURL,
		ThumbnailURL: ex.ThumbnailURL,
	}
	if err := p.backend.store.InsertIdea(idea); err != nil {
		return fmt.Errorf("save idea: %w", err)
	}
	if err := p.backend.store.MarkCompleted(j, idea.ID); err != nil {
		return err
	}
	p.backend.publish(ctx, j)
	return nil
}

func (p *pipeline) wait(ctx context.Context) error {
	if p.stageDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.stageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func failureMessage(err error) string {
	if errors.Is(err, ErrUnsupportedSource) {
		return "This link isn't supported yet"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Processing timed out"
	}
	return "Processing failed: " + err.Error()
}
