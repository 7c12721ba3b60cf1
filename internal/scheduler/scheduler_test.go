package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobSingleFlight(t *testing.T) {
	t.Parallel()

	var concurrent, maxConcurrent atomic.Int32
	block := make(chan struct{})

	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := s.EveryInterval(ctx, "slow", time.Hour, func(ctx context.Context) error {
		n := concurrent.Add(1)
		for {
			old := maxConcurrent.Load()
			if n <= old || maxConcurrent.CompareAndSwap(old, n) {
				break
			}
		}
		<-block
		concurrent.Add(-1)
		return nil
	})

	// First trigger starts the run; every further trigger must be dropped.
	go job.Trigger(ctx)
	for job.RunCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		if job.Trigger(ctx) {
			t.Fatal("trigger accepted while a run was in flight")
		}
	}
	close(block)

	if got := maxConcurrent.Load(); got != 1 {
		t.Fatalf("max concurrent invocations = %d, want 1", got)
	}
	if got := job.SkippedCount(); got != 5 {
		t.Fatalf("skipped counter = %d, want 5", got)
	}
	job.Stop()
}

func TestJobStopPreventsFutureRuns(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := s.EveryInterval(ctx, "fast", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	job.Stop()
	settled := runs.Load()

	time.Sleep(30 * time.Millisecond)
	if got := runs.Load(); got > settled+1 {
		t.Fatalf("job kept running after Stop: %d runs, settled at %d", got, settled)
	}
}

func TestJobErrorsRoutedNotFatal(t *testing.T) {
	t.Parallel()

	var errored atomic.Int32
	s := New(func(job string, err error) {
		if job != "flaky" {
			t.Errorf("wrong job name in onError: %s", job)
		}
		errored.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	job := s.EveryInterval(ctx, "flaky", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return context.DeadlineExceeded
	})
	defer job.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("job did not keep running after an error")
		case <-time.After(time.Millisecond):
		}
	}
	if errored.Load() < 2 {
		t.Fatalf("onError calls = %d, want >= 2", errored.Load())
	}
}

func TestNextBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		now      string
		boundary time.Duration
		buffer   time.Duration
		want     string
	}{
		{"mid bucket", "2026-01-07T12:34:00Z", 10 * time.Minute, 5 * time.Second, "2026-01-07T12:40:05Z"},
		{"on boundary", "2026-01-07T12:40:00Z", 10 * time.Minute, 5 * time.Second, "2026-01-07T12:50:05Z"},
		{"inside buffer window", "2026-01-07T12:40:03Z", 10 * time.Minute, 5 * time.Second, "2026-01-07T12:50:05Z"},
		{"just past buffer", "2026-01-07T12:40:06Z", 10 * time.Minute, 5 * time.Second, "2026-01-07T12:50:05Z"},
		{"hourly", "2026-01-07T12:59:00Z", time.Hour, time.Minute, "2026-01-07T13:01:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now, _ := time.Parse(time.RFC3339, tc.now)
			want, _ := time.Parse(time.RFC3339, tc.want)
			if got := NextBoundary(now, tc.boundary, tc.buffer); !got.Equal(want) {
				t.Fatalf("NextBoundary(%s) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}

func TestNextDailyUTC(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		now    string
		hh, mm int
		want   string
	}{
		{"before slot", "2026-01-07T00:01:00Z", 0, 5, "2026-01-07T00:05:00Z"},
		{"exactly at slot", "2026-01-07T00:05:00Z", 0, 5, "2026-01-08T00:05:00Z"},
		{"after slot", "2026-01-07T09:00:00Z", 0, 5, "2026-01-08T00:05:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now, _ := time.Parse(time.RFC3339, tc.now)
			want, _ := time.Parse(time.RFC3339, tc.want)
			if got := NextDailyUTC(now, tc.hh, tc.mm); !got.Equal(want) {
				t.Fatalf("NextDailyUTC(%s) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}
