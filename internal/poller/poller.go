// Package poller drives the worker: a timer loop that claims at most one job
// at a time and hands it to the pipeline.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"github.com/GhostRadios/ghostspace-worker/internal/metrics"
	"go.uber.org/zap"
)

// Claimer hands out ownership of the next claimable job.
type Claimer interface {
	ClaimNext(ctx context.Context, ownerToken string, lease time.Duration) (*jobs.Job, error)
}

// Runner processes one claimed job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *jobs.Job) error
}

type Poller struct {
	ownerToken string
	claimer    Claimer
	runner     Runner
	interval   time.Duration
	lease      time.Duration
	logger     *zap.Logger

	// Single-flight slot. A tick that cannot take it is skipped whole;
	// this process never runs two pipelines concurrently.
	busy sync.Mutex
}

func New(ownerToken string, claimer Claimer, runner Runner, interval, lease time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		ownerToken: ownerToken,
		claimer:    claimer,
		runner:     runner,
		interval:   interval,
		lease:      lease,
		logger:     logger.With(zap.String("component", "poller"), zap.String("owner_token", ownerToken)),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Poller started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopping, waiting for in-flight job")
			// Blocks until any in-flight pipeline releases the slot.
			p.busy.Lock()
			p.busy.Unlock()
			p.logger.Info("Poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick claims and dispatches at most one job. Nothing escapes a tick: claim
// errors are logged and swallowed so the loop never dies to a single failure.
func (p *Poller) tick(ctx context.Context) {
	if !p.busy.TryLock() {
		p.logger.Debug("Skipping tick, pipeline busy")
		return
	}

	job, err := p.claimer.ClaimNext(ctx, p.ownerToken, p.lease)
	if err != nil {
		p.logger.Error("Error claiming job", zap.Error(err))
		p.busy.Unlock()
		return
	}
	if job == nil {
		// Nothing claimable, or another worker won the race.
		p.busy.Unlock()
		return
	}

	metrics.IncJobsClaimed()
	metrics.SetBusy(true)

	// The run is detached from the shutdown cancel so a soft signal lets the
	// in-flight job reach a terminal write instead of aborting every stage.
	// The lease bounds it: past that the job is reclaimable anyway.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.lease)

	go func() {
		defer func() {
			cancel()
			metrics.SetBusy(false)
			p.busy.Unlock()
		}()
		// The runner records its own terminal state; the error is only
		// logged here.
		if err := p.runner.Run(runCtx, job); err != nil {
			p.logger.Warn("Pipeline run ended in failure",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	}()
}
