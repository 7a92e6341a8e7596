package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// TestDBConfig holds test database configuration
type TestDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns default test database config
func DefaultTestDBConfig() *TestDBConfig {
	return &TestDBConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "ghostspace_worker",
		Password: "change_me_in_production",
		DBName:   "ghostspace_test",
	}
}

// SetupTestDB creates a test database connection and ensures the schema
func SetupTestDB(t *testing.T, cfg *TestDBConfig) *sql.DB {
	if cfg == nil {
		cfg = DefaultTestDBConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	if err := jobs.EnsureSchema(db); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}

	return db
}

// CleanupTestDB truncates worker tables and closes the connection
func CleanupTestDB(t *testing.T, db *sql.DB) {
	tables := []string{
		"transcode_jobs",
		"posts",
	}

	for _, table := range tables {
		_, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			t.Logf("Warning: Failed to truncate table %s: %v", table, err)
		}
	}

	db.Close()
}

// InsertTestJob inserts a transcode job row and returns its id
func InsertTestJob(t *testing.T, db *sql.DB, postID, sourceKey, status string) string {
	id := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO transcode_jobs (id, post_id, source_key, status)
		VALUES ($1, $2, $3, $4)
	`, id, postID, sourceKey, status)
	if err != nil {
		t.Fatalf("Failed to insert test job: %v", err)
	}
	return id
}

// InsertTestPost inserts a post row for the downstream record update
func InsertTestPost(t *testing.T, db *sql.DB, postID string) {
	_, err := db.Exec(`INSERT INTO posts (id) VALUES ($1)`, postID)
	if err != nil {
		t.Fatalf("Failed to insert test post: %v", err)
	}
}

// ExpireLease forces a processing job's lease into the past
func ExpireLease(t *testing.T, db *sql.DB, jobID string) {
	_, err := db.Exec(`
		UPDATE transcode_jobs
		SET lease_expires_at = NOW() - INTERVAL '1 minute'
		WHERE id = $1
	`, jobID)
	if err != nil {
		t.Fatalf("Failed to expire lease: %v", err)
	}
}

// BackdateJob shifts a job's created_at so FIFO ordering is deterministic
func BackdateJob(t *testing.T, db *sql.DB, jobID string, age time.Duration) {
	_, err := db.Exec(`
		UPDATE transcode_jobs
		SET created_at = NOW() - $2 * INTERVAL '1 second'
		WHERE id = $1
	`, jobID, int(age.Seconds()))
	if err != nil {
		t.Fatalf("Failed to backdate job: %v", err)
	}
}

// CountRows counts rows in a table matching a condition
func CountRows(t *testing.T, db *sql.DB, table, condition string) int {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, condition)
	err := db.QueryRow(query).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}
