// Package transcode runs the external transcoding engine that produces the
// HLS rendition for one source video.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"go.uber.org/zap"
)

// Error is a terminal transcode failure. Transcodes are never retried within
// an attempt: re-running a deterministic encode on unchanged input is not
// going to self-heal the way network I/O does.
type Error struct {
	ExitCode int
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcode failed (exit code %d): %s", e.ExitCode, e.Detail)
}

type Invoker struct {
	ffmpegPath string
	segmentSec int
	timeout    time.Duration
	logger     *zap.Logger
}

func NewInvoker(ffmpegPath string, segmentSec int, timeout time.Duration, logger *zap.Logger) *Invoker {
	return &Invoker{
		ffmpegPath: ffmpegPath,
		segmentSec: segmentSec,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "transcoder")),
	}
}

// buildArgs is the fixed argument template: H.264/AAC, keyframes pinned to
// segment boundaries, vod playlist with every segment listed.
func (inv *Invoker) buildArgs(inputPath, outputDir string) []string {
	return []string{
		"-i", inputPath,
		"-y",
		"-codec:v", "libx264",
		"-codec:a", "aac",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", inv.segmentSec),
		"-hls_time", fmt.Sprintf("%d", inv.segmentSec),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%05d.ts"),
		filepath.Join(outputDir, "index.m3u8"),
	}
}

// Transcode runs ffmpeg against inputPath, writing the playlist and segment
// files into outputDir. The run is bounded by the configured timeout; expiry
// is a terminal Error like any other non-zero exit.
func (inv *Invoker) Transcode(ctx context.Context, inputPath, outputDir string) error {
	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	args := inv.buildArgs(inputPath, outputDir)
	cmd := exec.CommandContext(runCtx, inv.ffmpegPath, args...)

	// Stderr is diagnostic only; the exit code decides the outcome.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Unblocks Wait if a child process keeps stderr open past the kill.
	cmd.WaitDelay = 10 * time.Second

	startTime := time.Now()
	err := cmd.Run()
	duration := time.Since(startTime)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		detail := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("timed out after %s", inv.timeout)
		}

		inv.logger.Error("Transcode failed",
			zap.String("input", inputPath),
			zap.Int("exit_code", exitCode),
			zap.Duration("duration", duration),
			zap.String("stderr_tail", tail(stderr.Bytes(), 2048)),
			zap.Error(err))

		return &Error{
			ExitCode: exitCode,
			Detail:   jobs.TruncateError(detail),
		}
	}

	inv.logger.Info("Transcode completed",
		zap.String("input", inputPath),
		zap.String("output_dir", outputDir),
		zap.Duration("duration", duration))

	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
