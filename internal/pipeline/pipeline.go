// Package pipeline carries one claimed job through download, transcode,
// publish and record, and writes the terminal state exactly once.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"github.com/GhostRadios/ghostspace-worker/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fetcher downloads a source blob into local scratch storage.
type Fetcher interface {
	Fetch(ctx context.Context, key, destPath string) error
}

// Transcoder turns a local source file into an HLS output directory.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputDir string) error
}

// Publisher uploads an output directory under a destination prefix.
type Publisher interface {
	Publish(ctx context.Context, localDir, destPrefix string) error
}

// JobStore is the slice of the job store the pipeline writes through.
type JobStore interface {
	MarkCompleted(ctx context.Context, job *jobs.Job) error
	MarkFailed(ctx context.Context, job *jobs.Job, cause error) error
	UpdatePostRendition(ctx context.Context, postID, renditionPath, playlistURL string) error
}

// URLBuilder maps a published object key to its public URL.
type URLBuilder interface {
	PublicURL(key string) string
}

type Pipeline struct {
	store       JobStore
	fetcher     Fetcher
	transcoder  Transcoder
	publisher   Publisher
	urls        URLBuilder
	scratchRoot string
	logger      *zap.Logger
}

func New(store JobStore, fetcher Fetcher, transcoder Transcoder, publisher Publisher, urls URLBuilder, scratchRoot string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		fetcher:     fetcher,
		transcoder:  transcoder,
		publisher:   publisher,
		urls:        urls,
		scratchRoot: scratchRoot,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Run processes one claimed job to a terminal state. Stage errors never
// escape: every failure becomes a single failed-status write, and the scratch
// directory is removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job) (err error) {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("post_id", job.PostID))
	start := time.Now()

	// The suffix keeps scratch unique even if the same job id is ever
	// re-processed while an old directory lingers.
	scratch := filepath.Join(p.scratchRoot, fmt.Sprintf("%s_%s", job.ID, uuid.New().String()[:8]))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", zap.Any("panic", r))
			err = fmt.Errorf("pipeline panic: %v", r)
			p.markFailed(ctx, job, err, log)
		}
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Error("Error removing scratch directory",
				zap.String("path", scratch),
				zap.Error(rmErr))
		}
	}()

	outputDir := filepath.Join(scratch, "hls")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		err = fmt.Errorf("create scratch directory: %w", err)
		p.markFailed(ctx, job, err, log)
		return err
	}

	// started -> downloaded
	sourcePath := filepath.Join(scratch, "source"+filepath.Ext(job.SourceKey))
	stageStart := time.Now()
	if err := p.fetcher.Fetch(ctx, job.SourceKey, sourcePath); err != nil {
		p.markFailed(ctx, job, err, log)
		return err
	}
	metrics.ObserveStageDuration("download", time.Since(stageStart))

	// downloaded -> transcoded
	stageStart = time.Now()
	if err := p.transcoder.Transcode(ctx, sourcePath, outputDir); err != nil {
		p.markFailed(ctx, job, err, log)
		return err
	}
	metrics.ObserveStageDuration("transcode", time.Since(stageStart))

	// transcoded -> published
	stageStart = time.Now()
	if err := p.publisher.Publish(ctx, outputDir, job.RenditionPrefix()); err != nil {
		p.markFailed(ctx, job, err, log)
		return err
	}
	metrics.ObserveStageDuration("publish", time.Since(stageStart))

	// published -> recorded. The rendition is already durable; a failure to
	// update the post cross-reference is logged and accepted, never rolled
	// back into a failed job.
	playlistPath := job.PlaylistPath()
	playlistURL := p.urls.PublicURL(playlistPath)
	if err := p.store.UpdatePostRendition(ctx, job.PostID, playlistPath, playlistURL); err != nil {
		log.Warn("Post record update failed, rendition remains published",
			zap.String("rendition_path", playlistPath),
			zap.Error(err))
	}

	// recorded -> completed
	writeCtx, cancel := terminalWriteContext(ctx)
	defer cancel()
	if err := p.store.MarkCompleted(writeCtx, job); err != nil {
		log.Error("Error marking job completed", zap.Error(err))
		return err
	}

	metrics.ObserveStageDuration("total", time.Since(start))
	log.Info("Job completed",
		zap.String("playlist_url", playlistURL),
		zap.Duration("duration", time.Since(start)))

	return nil
}

func (p *Pipeline) markFailed(ctx context.Context, job *jobs.Job, cause error, log *zap.Logger) {
	log.Error("Job failed", zap.Error(cause))
	writeCtx, cancel := terminalWriteContext(ctx)
	defer cancel()
	if err := p.store.MarkFailed(writeCtx, job, cause); err != nil {
		log.Error("Error marking job failed", zap.Error(err))
	}
}

// terminalWriteContext detaches the terminal status write from the run
// context. A stage aborted by cancellation or timeout must still leave the
// job row in a terminal state, not stuck in processing until lease expiry.
func terminalWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
}
