package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GhostRadios/ghostspace-worker/internal/jobs"
	"go.uber.org/zap"
)

type fakeClaimer struct {
	jobs   chan *jobs.Job
	err    error
	claims atomic.Int32
}

func (c *fakeClaimer) ClaimNext(ctx context.Context, ownerToken string, lease time.Duration) (*jobs.Job, error) {
	c.claims.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	select {
	case j := <-c.jobs:
		return j, nil
	default:
		return nil, nil
	}
}

type fakeRunner struct {
	running  atomic.Int32
	maxSeen  atomic.Int32
	runs     atomic.Int32
	duration time.Duration
}

func (r *fakeRunner) Run(ctx context.Context, job *jobs.Job) error {
	n := r.running.Add(1)
	if n > r.maxSeen.Load() {
		r.maxSeen.Store(n)
	}
	time.Sleep(r.duration)
	r.running.Add(-1)
	r.runs.Add(1)
	return nil
}

func newTestPoller(c Claimer, r Runner, interval time.Duration) *Poller {
	return New("worker_test", c, r, interval, time.Hour, zap.NewNop())
}

func TestSingleFlight(t *testing.T) {
	claimer := &fakeClaimer{jobs: make(chan *jobs.Job, 10)}
	for i := 0; i < 5; i++ {
		claimer.jobs <- &jobs.Job{ID: "j", PostID: "p"}
	}
	runner := &fakeRunner{duration: 50 * time.Millisecond}

	p := newTestPoller(claimer, runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if max := runner.maxSeen.Load(); max > 1 {
		t.Errorf("saw %d concurrent pipeline runs, expected at most 1", max)
	}
	if runner.runs.Load() == 0 {
		t.Error("no pipeline runs happened")
	}
}

func TestTickSurvivesClaimError(t *testing.T) {
	claimer := &fakeClaimer{err: errors.New("database is down")}
	runner := &fakeRunner{}

	p := newTestPoller(claimer, runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// The loop kept polling despite every claim failing.
	if claimer.claims.Load() < 2 {
		t.Errorf("poller made %d claim attempts, expected it to keep polling", claimer.claims.Load())
	}
	if runner.runs.Load() != 0 {
		t.Errorf("runner ran %d times on claim errors", runner.runs.Load())
	}
}

func TestIdleTicksReleaseSlot(t *testing.T) {
	claimer := &fakeClaimer{jobs: make(chan *jobs.Job, 1)}
	runner := &fakeRunner{}

	p := newTestPoller(claimer, runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	// Let several empty ticks pass, then enqueue a job; a leaked slot from
	// an idle tick would make this job never run.
	time.Sleep(30 * time.Millisecond)
	claimer.jobs <- &jobs.Job{ID: "j1", PostID: "p1"}
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if runner.runs.Load() != 1 {
		t.Errorf("runner ran %d times, expected 1", runner.runs.Load())
	}
}

// ctxWatchRunner reports the state of its run context after the poller's
// parent context has been cancelled.
type ctxWatchRunner struct {
	started chan struct{}
	ctxErr  chan error
}

func (r *ctxWatchRunner) Run(ctx context.Context, job *jobs.Job) error {
	close(r.started)
	time.Sleep(60 * time.Millisecond) // outlives the cancel in the test
	r.ctxErr <- ctx.Err()
	return nil
}

func TestShutdownDoesNotCancelInFlightRun(t *testing.T) {
	claimer := &fakeClaimer{jobs: make(chan *jobs.Job, 1)}
	claimer.jobs <- &jobs.Job{ID: "j1", PostID: "p1"}
	runner := &ctxWatchRunner{
		started: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}

	p := newTestPoller(claimer, runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	<-runner.started
	cancel()
	<-done

	// A soft shutdown must leave the in-flight run's context alive so its
	// stages and terminal write can finish; only lease expiry bounds it.
	if err := <-runner.ctxErr; err != nil {
		t.Errorf("in-flight run context was cancelled by shutdown: %v", err)
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	claimer := &fakeClaimer{jobs: make(chan *jobs.Job, 1)}
	claimer.jobs <- &jobs.Job{ID: "j1", PostID: "p1"}
	runner := &fakeRunner{duration: 100 * time.Millisecond}

	p := newTestPoller(claimer, runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	// Give the poller time to claim and start the run, then cancel.
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if runner.running.Load() != 0 {
		t.Error("Start returned while a pipeline run was still in flight")
	}
	if runner.runs.Load() != 1 {
		t.Errorf("runner ran %d times, expected 1", runner.runs.Load())
	}
}
