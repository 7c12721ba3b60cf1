package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"swapgrid/internal/metrics"
)

// TaskFunc is one unit of scheduled work. It must honour ctx cancellation.
type TaskFunc func(ctx context.Context) error

// ErrorFunc receives errors a task returned. The scheduler never crashes on
// a task error; the next run is still scheduled.
type ErrorFunc func(job string, err error)

// Scheduler runs named tasks repeatedly without overlapping invocations.
// All disciplines are recursive-timer based: the next run is computed only
// after the previous one returns, so a slow run can never pile up behind
// its own timer.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	onError ErrorFunc
}

func New(onError ErrorFunc) *Scheduler {
	if onError == nil {
		onError = func(job string, err error) {
			log.Printf("[scheduler] job %s error: %v", job, err)
		}
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		onError: onError,
	}
}

// EveryInterval runs task, waits interval, runs again. Never fixed-rate:
// the interval is measured from completion, not from the previous start.
func (s *Scheduler) EveryInterval(ctx context.Context, name string, interval time.Duration, task TaskFunc) *Job {
	return s.start(ctx, name, task, func(now time.Time) time.Time {
		return now.Add(interval)
	})
}

// AtBoundary runs task at every wall-clock multiple of boundary plus a small
// buffer (e.g. boundary=10m buffer=5s fires at :00:05, :10:05, ...). The next
// boundary is computed from the time the previous run finished.
func (s *Scheduler) AtBoundary(ctx context.Context, name string, boundary, buffer time.Duration, task TaskFunc) *Job {
	return s.start(ctx, name, task, func(now time.Time) time.Time {
		return NextBoundary(now, boundary, buffer)
	})
}

// DailyAtUTC runs task once a day at hh:mm UTC.
func (s *Scheduler) DailyAtUTC(ctx context.Context, name string, hh, mm int, task TaskFunc) *Job {
	return s.start(ctx, name, task, func(now time.Time) time.Time {
		return NextDailyUTC(now, hh, mm)
	})
}

func (s *Scheduler) start(ctx context.Context, name string, task TaskFunc, next func(time.Time) time.Time) *Job {
	j := &Job{
		name:    name,
		task:    task,
		next:    next,
		onError: s.onError,
		stopCh:  make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[name] = j
	s.mu.Unlock()

	go j.loop(ctx)
	return j
}

// Job returns the named job handle, if registered.
func (s *Scheduler) Job(name string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	return j, ok
}

// StopAll stops every job. In-flight runs finish; no further runs are scheduled.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		j.Stop()
	}
}

// Job is the handle for one scheduled task.
type Job struct {
	name    string
	task    TaskFunc
	next    func(time.Time) time.Time
	onError ErrorFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	skipped  atomic.Int64
	runs     atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	nextRun time.Time
}

func (j *Job) loop(ctx context.Context) {
	for {
		next := j.next(time.Now())
		j.mu.Lock()
		j.nextRun = next
		j.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-j.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		// A stop between timer fire and run start is honoured immediately.
		select {
		case <-j.stopCh:
			return
		default:
		}

		j.runOnce(ctx)
	}
}

// runOnce executes the task if no invocation is in flight; otherwise the
// trigger is dropped and counted.
func (j *Job) runOnce(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		metrics.RefreshSkipped.WithLabelValues(j.name).Inc()
		log.Printf("[scheduler] %s still running, skipping trigger (skipped=%d)", j.name, j.skipped.Load())
		return false
	}
	defer j.running.Store(false)

	j.mu.Lock()
	j.lastRun = time.Now()
	j.mu.Unlock()
	j.runs.Add(1)

	if err := j.task(ctx); err != nil {
		j.onError(j.name, err)
	}
	return true
}

// Trigger forces a run now, subject to single-flight. Returns false when an
// invocation was already in progress.
func (j *Job) Trigger(ctx context.Context) bool {
	return j.runOnce(ctx)
}

// Stop prevents future runs. A run already in progress finishes.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *Job) Name() string    { return j.name }
func (j *Job) IsRunning() bool { return j.running.Load() }

func (j *Job) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *Job) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun
}

// SkippedCount reports how many triggers were dropped by single-flight.
func (j *Job) SkippedCount() int64 { return j.skipped.Load() }

// RunCount reports how many invocations started.
func (j *Job) RunCount() int64 { return j.runs.Load() }

// NextBoundary returns the next wall-clock multiple of boundary after now,
// plus buffer. If now sits inside the buffer window of the current boundary,
// the following boundary is used.
func NextBoundary(now time.Time, boundary, buffer time.Duration) time.Time {
	aligned := now.UTC().Truncate(boundary)
	next := aligned.Add(boundary).Add(buffer)
	if !next.After(now.UTC()) {
		next = next.Add(boundary)
	}
	return next
}

// NextDailyUTC returns the next hh:mm UTC strictly after now.
func NextDailyUTC(now time.Time, hh, mm int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
