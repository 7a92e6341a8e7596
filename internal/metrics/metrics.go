package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	jobStatusCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ghostspace_worker_job_status_count",
			Help: "Number of transcode jobs in each status",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghostspace_worker_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"stage"}, // download, transcode, publish, total
	)

	jobsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ghostspace_worker_jobs_claimed_total",
			Help: "Number of jobs this worker has claimed",
		},
	)

	pipelineBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghostspace_worker_pipeline_busy",
			Help: "Whether the single pipeline slot is occupied (1=busy, 0=idle)",
		},
	)
)

func init() {
	prometheus.MustRegister(jobStatusCount)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(jobsClaimed)
	prometheus.MustRegister(pipelineBusy)
}

// ObserveStageDuration records how long a pipeline stage took.
func ObserveStageDuration(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncJobsClaimed counts a successful claim.
func IncJobsClaimed() {
	jobsClaimed.Inc()
}

// SetBusy reflects the poller's single-flight slot.
func SetBusy(busy bool) {
	if busy {
		pipelineBusy.Set(1)
	} else {
		pipelineBusy.Set(0)
	}
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func StartMetricsServer(cfg *config.Config, store *jobs.Store, logger *zap.Logger) {
	// Update queue gauges periodically
	go updateMetrics(store, logger)

	// Create a new HTTP mux for metrics to avoid conflicts
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

func updateMetrics(store *jobs.Store, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		counts, err := store.CountByStatus(context.Background())
		if err != nil {
			logger.Warn("Error updating job status metrics", zap.Error(err))
			continue
		}
		for status, n := range counts {
			jobStatusCount.WithLabelValues(status).Set(float64(n))
		}
	}
}
