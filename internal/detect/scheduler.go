// Package detect runs the periodic jobs that synthesize events from bulk
// scans of entity state.
//
// Every job is guarded by a cluster-wide lock so that with several app
// instances running, each tick executes the job body on at most one of
// them. A failed acquisition is a normal skip, not an error.
package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finchops/finch/internal/lock"
	"github.com/finchops/finch/internal/model"
)

// Publisher hands synthesized events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event *model.Event)
}

// Detector is one named periodic check.
type Detector interface {
	// Name is the job name, also the distributed lock key.
	Name() string
	// Run executes one scan. Errors are logged by the scheduler; the run's
	// own transactional scope decides what rolls back.
	Run(ctx context.Context) error
}

// Job binds a detector to its schedule and lock bounds.
type Job struct {
	Detector Detector
	Interval time.Duration
	// MaxHold caps how long the lock survives a crashed run; it doubles as
	// the run's context deadline.
	MaxHold time.Duration
	// MinHold keeps the job name taken after a completed run so another
	// instance does not immediately re-run it.
	MinHold time.Duration
}

// Scheduler drives the jobs, one goroutine per job.
type Scheduler struct {
	locker lock.Locker
	jobs   []Job
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler coordinating through the given locker.
func NewScheduler(locker lock.Locker, jobs []Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{locker: locker, jobs: jobs, logger: logger}
}

// Start launches the job loops. Each runs once immediately, then on every
// tick of its interval.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, job)
		}()
	}
}

// Stop cancels the loops and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.RunOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes one lock-guarded invocation of the job. Exported so the
// CLI can trigger a single run of a named detector.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	name := job.Detector.Name()

	ok, err := s.locker.TryAcquire(ctx, name, job.MaxHold, job.MinHold)
	if err != nil {
		s.logger.Error("lock acquire failed", "job", name, "error", err)
		return
	}
	if !ok {
		s.logger.Debug("lock held elsewhere, skipping", "job", name)
		return
	}

	// The deadline matches the lock TTL: once the lock can expire under us,
	// the run must not keep going.
	runCtx, cancel := context.WithTimeout(ctx, job.MaxHold)
	defer cancel()

	start := time.Now()
	if err := job.Detector.Run(runCtx); err != nil {
		s.logger.Error("detector run failed", "job", name, "elapsed", time.Since(start), "error", err)
	} else {
		s.logger.Info("detector run completed", "job", name, "elapsed", time.Since(start))
	}

	if err := s.locker.Release(ctx, name); err != nil {
		s.logger.Warn("lock release failed", "job", name, "error", err)
	}
}
