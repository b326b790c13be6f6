package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworld/core/internal/config"
	"github.com/agentworld/core/internal/domain"
	"github.com/agentworld/core/internal/queue"
)

// stubQueue records sweep and cleanup calls; everything else is unused by the
// sweeper.
type stubQueue struct {
	sweeps   atomic.Int64
	cleanups atomic.Int64
	result   queue.SweepResult
}

func (s *stubQueue) DetectStuckMessages(context.Context) (queue.SweepResult, error) {
	s.sweeps.Add(1)
	return s.result, nil
}

func (s *stubQueue) Cleanup(context.Context, time.Duration) (int64, error) {
	s.cleanups.Add(1)
	return 0, nil
}

func (s *stubQueue) Enqueue(context.Context, *domain.QueueMessage) (string, error) { return "", nil }
func (s *stubQueue) Dequeue(context.Context, string, string) (*domain.QueueMessage, error) {
	return nil, nil
}
func (s *stubQueue) UpdateHeartbeat(context.Context, string) (bool, error) { return false, nil }
func (s *stubQueue) MarkCompleted(context.Context, string) error           { return nil }
func (s *stubQueue) MarkFailed(context.Context, string, string) (domain.QueueStatus, error) {
	return domain.QueuePending, nil
}
func (s *stubQueue) RetryMessage(context.Context, string) (bool, error)      { return false, nil }
func (s *stubQueue) Depth(context.Context, string, string) (int, error)      { return 0, nil }
func (s *stubQueue) Stats(context.Context, string) (*queue.Stats, error)     { return nil, nil }
func (s *stubQueue) DeleteLane(context.Context, string, string) (int64, error) {
	return 0, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSweeper_RunsDetectionOnInterval(t *testing.T) {
	q := &stubQueue{}
	s, err := queue.NewSweeper(queue.SweeperConfig{
		Queue:    q,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return q.sweeps.Load() >= 2 })
	if q.cleanups.Load() != 0 {
		t.Fatal("cleanup ran without CleanupAfter configured")
	}
}

func TestSweeper_CleanupRunsWhenConfigured(t *testing.T) {
	q := &stubQueue{}
	s, err := queue.NewSweeper(queue.SweeperConfig{
		Queue:        q,
		Interval:     20 * time.Millisecond,
		CleanupAfter: time.Hour,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return q.sweeps.Load() >= 1 && q.cleanups.Load() >= 1
	})
}

func TestSweeper_StopHaltsLoop(t *testing.T) {
	q := &stubQueue{}
	s, err := queue.NewSweeper(queue.SweeperConfig{Queue: q, Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return q.sweeps.Load() >= 1 })
	s.Stop()

	settled := q.sweeps.Load()
	time.Sleep(50 * time.Millisecond)
	if q.sweeps.Load() != settled {
		t.Fatal("sweeper kept running after Stop")
	}
}

func TestSweeper_RejectsInvalidCron(t *testing.T) {
	if _, err := queue.NewSweeper(queue.SweeperConfig{
		Queue:    &stubQueue{},
		Schedule: "not a cron expr",
	}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSweeper_ManualSweepIsSynchronous(t *testing.T) {
	q := &stubQueue{result: queue.SweepResult{Requeued: 2, Failed: 1}}
	s, err := queue.NewSweeper(queue.SweeperConfig{Queue: q, CleanupAfter: time.Hour})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Sweep(context.Background())
	if q.sweeps.Load() != 1 || q.cleanups.Load() != 1 {
		t.Fatalf("manual sweep did not run both passes: sweeps=%d cleanups=%d",
			q.sweeps.Load(), q.cleanups.Load())
	}
}

func TestSweeperFromConfig_TranslatesSweepSettings(t *testing.T) {
	q := &stubQueue{}
	s, err := queue.SweeperFromConfig(q, nil, config.SweepConfig{
		IntervalSeconds:   1,
		CleanupAfterHours: 1,
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	s.Sweep(context.Background())
	if q.sweeps.Load() != 1 || q.cleanups.Load() != 1 {
		t.Fatalf("expected detection and cleanup, got sweeps=%d cleanups=%d",
			q.sweeps.Load(), q.cleanups.Load())
	}

	noCleanup := &stubQueue{}
	s, err = queue.SweeperFromConfig(noCleanup, nil, config.SweepConfig{IntervalSeconds: 1})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	s.Sweep(context.Background())
	if noCleanup.cleanups.Load() != 0 {
		t.Fatal("cleanup ran with cleanup_after_hours unset")
	}

	if _, err := queue.SweeperFromConfig(q, nil, config.SweepConfig{Schedule: "bad"}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
