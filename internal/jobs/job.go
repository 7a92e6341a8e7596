package jobs

import "time"

// Job statuses. Monotonic within one attempt:
// pending -> processing -> completed|failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// MaxErrorLen bounds last_error so a huge ffmpeg dump never bloats the row.
const MaxErrorLen = 512

// Job is one row of the shared transcode_jobs table. The table is the sole
// source of truth for job state; workers keep no durable local state.
type Job struct {
	ID             string
	PostID         string
	SourceKey      string
	Status         string
	OwnerToken     string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RenditionPrefix is the output namespace for this job's published files.
// Deriving it from post and job id guarantees concurrent jobs never collide.
func (j *Job) RenditionPrefix() string {
	return j.PostID + "/" + j.ID
}

// PlaylistPath is the object key of the published HLS playlist.
func (j *Job) PlaylistPath() string {
	return j.RenditionPrefix() + "/index.m3u8"
}

// TruncateError bounds an error message for storage in last_error.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorLen {
		return msg[:MaxErrorLen]
	}
	return msg
}
