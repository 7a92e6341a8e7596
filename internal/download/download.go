// Package download fetches source videos into local scratch storage.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/backoff"
	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"go.uber.org/zap"
)

// Error is the terminal download failure surfaced after retries are spent.
type Error struct {
	Key      string
	Attempts int
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s failed after %d attempts: %s", e.Key, e.Attempts, e.Detail)
}

// SourceResolver turns a source key into a fetchable URL. Presigned URLs are
// preferred; the public URL is the fallback when signing is unavailable.
type SourceResolver interface {
	PresignedSourceURL(ctx context.Context, key string) (string, error)
	PublicSourceURL(key string) string
}

type Downloader struct {
	resolver SourceResolver
	client   *http.Client
	policy   backoff.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

func NewDownloader(resolver SourceResolver, policy backoff.Policy, timeout time.Duration, logger *zap.Logger) *Downloader {
	return &Downloader{
		resolver: resolver,
		client:   &http.Client{},
		policy:   policy,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "downloader")),
	}
}

// Fetch streams the source blob at key into destPath, retrying transient
// failures with backoff. Each attempt is bounded by its own timeout so a hung
// connection cannot stall the pipeline past it.
func (d *Downloader) Fetch(ctx context.Context, key, destPath string) error {
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.fetchOnce(attemptCtx, key, destPath)
		cancel()

		if err == nil {
			if attempt > 1 {
				d.logger.Info("Download succeeded after retry",
					zap.String("source_key", key),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err
		d.logger.Warn("Download attempt failed",
			zap.String("source_key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < d.policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return &Error{Key: key, Attempts: attempt, Detail: jobs.TruncateError(ctx.Err().Error())}
			case <-time.After(d.policy.Wait(attempt)):
			}
		}
	}

	return &Error{
		Key:      key,
		Attempts: d.policy.MaxAttempts,
		Detail:   jobs.TruncateError(lastErr.Error()),
	}
}

func (d *Downloader) fetchOnce(ctx context.Context, key, destPath string) error {
	fileURL, err := d.resolver.PresignedSourceURL(ctx, key)
	if err != nil {
		// Signing unsupported or failing; the public URL still works for
		// buckets with anonymous read access.
		d.logger.Warn("Presign failed, falling back to public URL",
			zap.String("source_key", key),
			zap.Error(err))
		fileURL = d.resolver.PublicSourceURL(key)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return fmt.Errorf("create request error: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status: %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create file error: %w", err)
	}
	defer out.Close()

	// Stream straight to disk; source videos can be far larger than RAM.
	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("copy error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("empty response body")
	}

	d.logger.Info("File downloaded",
		zap.String("source_key", key),
		zap.String("path", destPath),
		zap.Int64("bytes", n))

	return nil
}
