package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"go.uber.org/zap"
)

// Janitor periodically removes terminal job rows past retention and any
// scratch directories a crashed run left behind.
type Janitor struct {
	cfg    *config.Config
	store  *Store
	logger *zap.Logger
}

func NewJanitor(cfg *config.Config, store *Store, logger *zap.Logger) *Janitor {
	return &Janitor{
		cfg:    cfg,
		store:  store,
		logger: logger.With(zap.String("component", "janitor")),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Janitor started",
		zap.Int("completed_retention_hours", j.cfg.CompletedJobRetentionHours),
		zap.Int("failed_retention_days", j.cfg.FailedJobRetentionDays))

	// Run cleanup immediately on startup
	j.sweep(ctx)

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopping")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	j.cleanupCompletedJobs(ctx)
	j.cleanupFailedJobs(ctx)
	j.cleanupOrphanScratch()
}

func (j *Janitor) cleanupCompletedJobs(ctx context.Context) {
	res, err := j.store.db.ExecContext(ctx, `
		DELETE FROM transcode_jobs
		WHERE status = 'completed'
		  AND updated_at < NOW() - INTERVAL '1 hour' * $1
	`, j.cfg.CompletedJobRetentionHours)
	if err != nil {
		j.logger.Error("Error cleaning up completed jobs", zap.Error(err))
		return
	}

	rowsAffected, _ := res.RowsAffected()
	if rowsAffected > 0 {
		j.logger.Info("Cleaned up old completed jobs", zap.Int64("count", rowsAffected))
	}
}

func (j *Janitor) cleanupFailedJobs(ctx context.Context) {
	res, err := j.store.db.ExecContext(ctx, `
		DELETE FROM transcode_jobs
		WHERE status = 'failed'
		  AND updated_at < NOW() - INTERVAL '1 day' * $1
	`, j.cfg.FailedJobRetentionDays)
	if err != nil {
		j.logger.Error("Error cleaning up failed jobs", zap.Error(err))
		return
	}

	rowsAffected, _ := res.RowsAffected()
	if rowsAffected > 0 {
		j.logger.Info("Cleaned up old failed jobs", zap.Int64("count", rowsAffected))
	}
}

// cleanupOrphanScratch removes scratch directories left behind by runs that
// died without cleanup. The pipeline deletes its own scratch on every exit
// path, and a live run never outlasts its lease, so anything older than the
// lease plus an hour of slack is orphaned.
func (j *Janitor) cleanupOrphanScratch() {
	entries, err := os.ReadDir(j.cfg.ScratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("Error reading scratch directory", zap.Error(err))
		}
		return
	}

	maxAge := time.Duration(j.cfg.LeaseDurationSec)*time.Second + time.Hour
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.cfg.ScratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Error("Error removing orphan scratch directory",
				zap.String("path", path),
				zap.Error(err))
		} else {
			removed++
		}
	}

	if removed > 0 {
		j.logger.Info("Removed orphan scratch directories", zap.Int("count", removed))
	}
}
