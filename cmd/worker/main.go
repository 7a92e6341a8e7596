package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"github.com/GhostRadios/ghostspace-worker/internal/backoff"
	"github.com/GhostRadios/ghostspace-worker/internal/blob"
	"github.com/GhostRadios/ghostspace-worker/internal/download"
	"github.com/GhostRadios/ghostspace-worker/internal/health"
	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"github.com/GhostRadios/ghostspace-worker/internal/logger"
	"github.com/GhostRadios/ghostspace-worker/internal/metrics"
	"github.com/GhostRadios/ghostspace-worker/internal/pipeline"
	"github.com/GhostRadios/ghostspace-worker/internal/poller"
	"github.com/GhostRadios/ghostspace-worker/internal/transcode"
	"github.com/GhostRadios/ghostspace-worker/internal/upload"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ownerToken := fmt.Sprintf("worker_%s", uuid.New().String())
	log.Info("Starting ghostspace HLS transcoding worker",
		zap.String("owner_token", ownerToken))

	// 3. Connect to database
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("Error connecting to database", zap.Error(err))
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	// Test database connection
	if err := db.Ping(); err != nil {
		log.Fatal("Error pinging database", zap.Error(err))
	}
	log.Info("Connected to database successfully",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName))

	if err := jobs.EnsureSchema(db); err != nil {
		log.Fatal("Error ensuring schema", zap.Error(err))
	}

	store := jobs.NewStore(db, log)

	// 4. Connect to object storage
	blobStore, err := blob.NewClient(cfg)
	if err != nil {
		log.Fatal("Error creating blob store client", zap.Error(err))
	}
	log.Info("Blob store client initialized",
		zap.String("endpoint", cfg.S3Endpoint),
		zap.String("source_bucket", cfg.S3SourceBucket),
		zap.String("output_bucket", cfg.S3OutputBucket))

	// 5. Start health check server
	health.StartHealthServer(cfg, db, store, log)
	log.Info("Health check server started", zap.Int("port", cfg.HealthCheckPort))

	// 6. Start metrics server
	metrics.StartMetricsServer(cfg, store, log)
	log.Info("Metrics server started", zap.Int("port", cfg.MetricsPort))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Startup recovery: reclaim expired leases, optionally requeue failures
	if err := store.ReclaimExpiredLeases(ctx); err != nil {
		log.Error("Error during lease reclamation", zap.Error(err))
	}
	if cfg.RetryFailedJobs {
		if err := store.RetryFailedJobs(ctx, cfg.MaxJobAttempts); err != nil {
			log.Error("Error requeuing failed jobs", zap.Error(err))
		}
	}

	// 8. Build the pipeline
	policy := backoff.Policy{
		Base:        time.Duration(cfg.BackoffBaseSec) * time.Second,
		MaxAttempts: cfg.MaxIOAttempts,
	}
	downloader := download.NewDownloader(blobStore, policy,
		time.Duration(cfg.DownloadTimeoutSec)*time.Second, log)
	invoker := transcode.NewInvoker(cfg.FFmpegPath, cfg.SegmentDurationSec,
		time.Duration(cfg.TranscodeTimeoutSec)*time.Second, log)
	uploader := upload.NewTreeUploader(blobStore, policy, log)
	pipe := pipeline.New(store, downloader, invoker, uploader, blobStore, cfg.ScratchDir, log)

	var wg sync.WaitGroup

	// 9. Start the poller (single pipeline slot per process; fan-out across
	// jobs comes from running more worker processes)
	jobPoller := poller.New(ownerToken, store, pipe,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.LeaseDurationSec)*time.Second, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		jobPoller.Start(ctx)
	}()
	log.Info("Poller started",
		zap.Int("poll_interval_sec", cfg.PollIntervalSec),
		zap.Int("lease_duration_sec", cfg.LeaseDurationSec))

	// 10. Periodic recovery sweeps
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.ReclaimExpiredLeases(ctx); err != nil {
					log.Error("Error during lease reclamation", zap.Error(err))
				}
				if cfg.RetryFailedJobs {
					if err := store.RetryFailedJobs(ctx, cfg.MaxJobAttempts); err != nil {
						log.Error("Error requeuing failed jobs", zap.Error(err))
					}
				}
			}
		}
	}()

	// 11. Start the janitor
	janitor := jobs.NewJanitor(cfg, store, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Start(ctx)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("All services started successfully - waiting for shutdown signal")
	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	log.Info("Shutting down gracefully...")
	cancel()

	// Wait for workers to finish (second signal forces exit)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All services stopped gracefully")
	case <-sigChan:
		log.Warn("Forced shutdown - in-flight job will be reclaimed by lease expiry")
	}

	log.Info("Shutdown complete")
}
