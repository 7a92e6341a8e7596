package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Object storage
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         bool
	S3SourceBucket   string
	S3OutputBucket   string
	PublicBaseURL    string
	PresignExpirySec int

	// Worker
	PollIntervalSec  int
	LeaseDurationSec int
	ScratchDir       string

	// Retry policy
	MaxIOAttempts   int
	BackoffBaseSec  int
	RetryFailedJobs bool
	MaxJobAttempts  int

	// Timeouts
	DownloadTimeoutSec  int
	TranscodeTimeoutSec int

	// Transcoding
	FFmpegPath         string
	SegmentDurationSec int

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Cleanup
	CompletedJobRetentionHours int
	FailedJobRetentionDays     int

	// Monitoring
	MetricsPort     int
	HealthCheckPort int
}

func LoadConfig() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{}

	// Parse Database config
	cfg.DBHost = getEnv("DB_HOST", "localhost")
	cfg.DBPort = getEnvInt("DB_PORT", 5432)
	cfg.DBName = getEnv("DB_NAME", "ghostspace")
	cfg.DBUser = getEnv("DB_USER", "ghostspace_worker")
	cfg.DBPassword = getEnv("DB_PASSWORD", "")
	if cfg.DBPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	cfg.DBSSLMode = getEnv("DB_SSL_MODE", "disable")

	// Parse Object storage config
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", "")
	if cfg.S3Endpoint == "" {
		return nil, fmt.Errorf("S3_ENDPOINT is required")
	}
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", "")
	if cfg.S3AccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY is required")
	}
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", "")
	if cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("S3_SECRET_KEY is required")
	}
	cfg.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	cfg.S3SourceBucket = getEnv("S3_SOURCE_BUCKET", "")
	if cfg.S3SourceBucket == "" {
		return nil, fmt.Errorf("S3_SOURCE_BUCKET is required")
	}
	cfg.S3OutputBucket = getEnv("S3_OUTPUT_BUCKET", "")
	if cfg.S3OutputBucket == "" {
		return nil, fmt.Errorf("S3_OUTPUT_BUCKET is required")
	}
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "")
	cfg.PresignExpirySec = getEnvInt("PRESIGN_EXPIRY_SEC", 900)

	// Parse Worker config
	cfg.PollIntervalSec = getEnvInt("POLL_INTERVAL_SEC", 5)
	cfg.LeaseDurationSec = getEnvInt("LEASE_DURATION_SEC", 3600)
	cfg.ScratchDir = getEnv("SCRATCH_DIR", "scratch")

	// Parse Retry policy
	cfg.MaxIOAttempts = getEnvInt("MAX_IO_ATTEMPTS", 3)
	cfg.BackoffBaseSec = getEnvInt("BACKOFF_BASE_SEC", 2)
	cfg.RetryFailedJobs = getEnvBool("RETRY_FAILED_JOBS", false)
	cfg.MaxJobAttempts = getEnvInt("MAX_JOB_ATTEMPTS", 3)

	// Parse Timeout config
	cfg.DownloadTimeoutSec = getEnvInt("DOWNLOAD_TIMEOUT_SEC", 1800)
	cfg.TranscodeTimeoutSec = getEnvInt("TRANSCODE_TIMEOUT_SEC", 1800)

	// Parse Transcoding config
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	cfg.SegmentDurationSec = getEnvInt("SEGMENT_DURATION_SEC", 6)

	// Parse Logging config
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.LogFile = getEnv("LOG_FILE", "logs/worker.log")

	// Parse Cleanup config
	cfg.CompletedJobRetentionHours = getEnvInt("COMPLETED_JOB_RETENTION_HOURS", 24)
	cfg.FailedJobRetentionDays = getEnvInt("FAILED_JOB_RETENTION_DAYS", 7)

	// Parse Monitoring config
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 9090)
	cfg.HealthCheckPort = getEnvInt("HEALTH_CHECK_PORT", 8080)

	return cfg, nil
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
