package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// claimable matches rows this worker may take: pending rows, plus processing
// rows whose owner let the lease expire (crashed or wedged mid-pipeline).
const claimable = `(status = 'pending' OR (status = 'processing' AND lease_expires_at < NOW()))`

// Store mediates all access to the transcode_jobs table. Every mutation that
// can race another worker is a conditional update guarded by the previous
// state; zero rows affected means another worker won and the caller yields.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "job_store")),
	}
}

// ClaimNext takes ownership of the oldest claimable job, or returns nil when
// there is nothing to do or another worker got there first. The read and the
// guarded update are deliberately separate statements: correctness rests on
// the UPDATE's predicate re-checking claimability, not on the read.
func (s *Store) ClaimNext(ctx context.Context, ownerToken string, lease time.Duration) (*Job, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM transcode_jobs
		WHERE `+claimable+`
		ORDER BY created_at ASC
		LIMIT 1
	`).Scan(&id)

	if err == sql.ErrNoRows {
		// No claimable jobs
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query claimable job: %w", err)
	}

	// Compare-and-swap: succeeds only if the row is still claimable. A row
	// claimed by another worker between the read and here affects zero rows.
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'processing',
			owner_token = $2,
			claimed_at = NOW(),
			lease_expires_at = NOW() + $3 * INTERVAL '1 second',
			updated_at = NOW()
		WHERE id = $1 AND `+claimable, id, ownerToken, int(lease.Seconds()))

	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	if affected == 0 {
		// Lost the race. Do not retry this row; the next poll tick will
		// pick a fresh candidate.
		s.logger.Debug("Lost claim race", zap.String("job_id", id))
		return nil, nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Claimed job",
		zap.String("job_id", job.ID),
		zap.String("post_id", job.PostID),
		zap.String("source_key", job.SourceKey))

	return job, nil
}

// MarkCompleted records the terminal success state, clearing ownership and
// any stale error text. Guarded by owner_token so a worker whose lease was
// reclaimed mid-run cannot clobber the new owner's state.
func (s *Store) MarkCompleted(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'completed',
			owner_token = '',
			last_error = '',
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND owner_token = $2
	`, job.ID, job.OwnerToken)

	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("mark job %s completed: no longer owned by this worker", job.ID)
	}
	return nil
}

// MarkFailed records the terminal failure state for this attempt with a
// bounded diagnostic, incrementing the attempt counter.
func (s *Store) MarkFailed(ctx context.Context, job *Job, cause error) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = 'failed',
			owner_token = '',
			last_error = $3,
			attempts = attempts + 1,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND owner_token = $2
	`, job.ID, job.OwnerToken, TruncateError(cause.Error()))

	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("mark job %s failed: no longer owned by this worker", job.ID)
	}
	return nil
}

// UpdatePostRendition points the downstream post record at the published
// playlist. Callers treat a failure here as best-effort: the rendition is
// already durable in the blob store.
func (s *Store) UpdatePostRendition(ctx context.Context, postID, renditionPath, playlistURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET rendition_path = $2,
			playlist_url = $3,
			updated_at = NOW()
		WHERE id = $1
	`, postID, renditionPath, playlistURL)

	if err != nil {
		return fmt.Errorf("update post %s rendition: %w", postID, err)
	}
	return nil
}

// GetByID loads a single job row.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, source_key, status, owner_token,
		       claimed_at, lease_expires_at, attempts, last_error,
		       created_at, updated_at
		FROM transcode_jobs
		WHERE id = $1
	`, id)

	j := &Job{}
	var claimedAt, leaseExpiresAt sql.NullTime
	err := row.Scan(&j.ID, &j.PostID, &j.SourceKey, &j.Status, &j.OwnerToken,
		&claimedAt, &leaseExpiresAt, &j.Attempts, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if leaseExpiresAt.Valid {
		j.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	return j, nil
}

// CountByStatus returns the number of jobs per status, for health and metrics.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM transcode_jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
