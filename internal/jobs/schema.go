package jobs

import "database/sql"

// EnsureSchema creates the worker's tables if they do not exist yet. The
// producer service normally owns posts; it is created here too so a fresh
// environment (and the test database) can run the worker standalone.
func EnsureSchema(db *sql.DB) error {
	q := `
	CREATE TABLE IF NOT EXISTS transcode_jobs (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		source_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		owner_token TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMPTZ,
		lease_expires_at TIMESTAMPTZ,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transcode_jobs_claimable
		ON transcode_jobs (status, created_at);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		rendition_path TEXT NOT NULL DEFAULT '',
		playlist_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(q)
	return err
}
