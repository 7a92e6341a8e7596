package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReclaimExpiredLeases resets processing jobs whose lease has expired back to
// pending. ClaimNext would take them anyway, but the eager sweep keeps queue
// stats honest and surfaces crashed workers in the logs.
func (s *Store) ReclaimExpiredLeases(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'pending',
			owner_token = '',
			last_error = 'Reset by lease reclamation (owner lease expired mid-processing)',
			updated_at = NOW()
		WHERE status = 'processing'
		  AND lease_expires_at < NOW()
	`)
	if err != nil {
		return fmt.Errorf("reclaim expired leases: %w", err)
	}

	rowsAffected, _ := res.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Info("Reclaimed expired job leases",
			zap.Int64("count", rowsAffected))
	}
	return nil
}

// RetryFailedJobs resets failed jobs with attempts remaining back to pending.
// Whether failed jobs are retried at all is a deployment policy decision,
// gated by RETRY_FAILED_JOBS in config.
func (s *Store) RetryFailedJobs(ctx context.Context, maxAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'pending',
			updated_at = NOW()
		WHERE status = 'failed'
		  AND attempts < $1
	`, maxAttempts)
	if err != nil {
		return fmt.Errorf("retry failed jobs: %w", err)
	}

	rowsAffected, _ := res.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Info("Requeued failed jobs for retry",
			zap.Int64("count", rowsAffected),
			zap.Int("max_attempts", maxAttempts))
	}
	return nil
}
