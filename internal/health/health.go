package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GhostRadios/ghostspace-worker/config"
	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"go.uber.org/zap"
)

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  string                 `json:"timestamp"`
	Components map[string]interface{} `json:"components"`
	Jobs       map[string]int         `json:"jobs"`
}

// StartHealthServer starts the health check HTTP server
func StartHealthServer(cfg *config.Config, db *sql.DB, store *jobs.Store, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := checkHealth(r.Context(), db, store, logger)

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		// Readiness check - can we reach the job table?
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		// Liveness check - is the process alive?
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alive"))
	})

	addr := fmt.Sprintf(":%d", cfg.HealthCheckPort)
	logger.Info("Starting health check server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}()
}

func checkHealth(ctx context.Context, db *sql.DB, store *jobs.Store, logger *zap.Logger) HealthResponse {
	health := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().Format(time.RFC3339),
		Components: make(map[string]interface{}),
		Jobs:       make(map[string]int),
	}

	// Check database
	if err := db.Ping(); err != nil {
		health.Status = "unhealthy"
		health.Components["database"] = map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		logger.Warn("Database health check failed", zap.Error(err))
		return health
	}
	health.Components["database"] = "healthy"

	// Check job queue statistics
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		logger.Warn("Error reading job counts", zap.Error(err))
		return health
	}
	health.Jobs = counts

	return health
}
