// Package upload publishes a transcoded output tree to the blob store.
package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/backoff"
	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"go.uber.org/zap"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"
)

// Error is a terminal publish failure, naming the file that exhausted its
// retries.
type Error struct {
	File   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload %s failed: %s", e.File, e.Detail)
}

// BlobPutter is the slice of the blob client the uploader needs.
type BlobPutter interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) error
}

type TreeUploader struct {
	store  BlobPutter
	policy backoff.Policy
	logger *zap.Logger
}

func NewTreeUploader(store BlobPutter, policy backoff.Policy, logger *zap.Logger) *TreeUploader {
	return &TreeUploader{
		store:  store,
		policy: policy,
		logger: logger.With(zap.String("component", "tree_uploader")),
	}
}

// Publish uploads every file under localDir to destPrefix/<relative_path>.
// Uploads are idempotent overwrites, so re-publishing a partially uploaded
// tree converges on the same end state.
func (u *TreeUploader) Publish(ctx context.Context, localDir, destPrefix string) error {
	files, err := listFiles(localDir)
	if err != nil {
		return &Error{File: localDir, Detail: jobs.TruncateError(err.Error())}
	}

	for _, rel := range files {
		key := path.Join(destPrefix, filepath.ToSlash(rel))
		localPath := filepath.Join(localDir, rel)
		contentType := contentTypeFor(rel)

		if err := u.uploadWithRetry(ctx, key, localPath, contentType); err != nil {
			return &Error{File: rel, Detail: jobs.TruncateError(err.Error())}
		}
	}

	u.logger.Info("Published rendition tree",
		zap.String("prefix", destPrefix),
		zap.Int("files", len(files)))

	return nil
}

func (u *TreeUploader) uploadWithRetry(ctx context.Context, key, localPath, contentType string) error {
	var lastErr error

	for attempt := 1; attempt <= u.policy.MaxAttempts; attempt++ {
		lastErr = u.store.UploadFile(ctx, key, localPath, contentType)
		if lastErr == nil {
			return nil
		}

		u.logger.Warn("Upload attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < u.policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.policy.Wait(attempt)):
			}
		}
	}

	return lastErr
}

// listFiles walks root with an explicit worklist instead of recursing, so a
// pathological output tree cannot exhaust the stack. Returned paths are
// relative to root.
func listFiles(root string) ([]string, error) {
	var files []string
	dirs := []string{""}

	for len(dirs) > 0 {
		dir := dirs[len(dirs)-1]
		dirs = dirs[:len(dirs)-1]

		entries, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}

		for _, entry := range entries {
			rel := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				dirs = append(dirs, rel)
			} else {
				files = append(files, rel)
			}
		}
	}

	return files, nil
}

func contentTypeFor(name string) string {
	if filepath.Ext(name) == ".m3u8" {
		return playlistContentType
	}
	return segmentContentType
}
