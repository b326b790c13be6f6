package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentworld/core/internal/domain"
)

func enqueueTest(t *testing.T, store interface {
	Enqueue(ctx context.Context, m *domain.QueueMessage) (string, error)
}, m *domain.QueueMessage) string {
	t.Helper()
	id, err := store.Enqueue(context.Background(), m)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func TestQueue_DequeueLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	id := enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "task", Sender: "alice"})

	m, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if m == nil || m.ID != id {
		t.Fatalf("expected message %s, got %+v", id, m)
	}
	if m.Status != domain.QueueProcessing || m.ProcessedAt == nil || m.HeartbeatAt == nil {
		t.Fatalf("dequeued message not stamped processing: %+v", m)
	}
	if m.MaxRetries != domain.DefaultMaxRetries || m.TimeoutSeconds != domain.DefaultTimeoutSeconds {
		t.Fatalf("defaults not applied: %+v", m)
	}

	ok, err := store.UpdateHeartbeat(ctx, id)
	if err != nil || !ok {
		t.Fatalf("heartbeat on processing message: ok=%v err=%v", ok, err)
	}
	if err := store.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if ok, _ := store.UpdateHeartbeat(ctx, id); ok {
		t.Fatal("heartbeat on completed message should report false")
	}
	if err := store.MarkCompleted(ctx, id); err == nil {
		t.Fatal("double-complete should error")
	}
}

func TestQueue_SingleProcessingPerLane(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")
	saveTestChat(t, store, "w1", "c2")

	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "one"})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "two"})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c2", Content: "other lane"})

	first, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil || first == nil {
		t.Fatalf("first dequeue: %+v %v", first, err)
	}

	// Lane busy: second dequeue yields nothing, without error.
	second, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil {
		t.Fatalf("busy-lane dequeue: %v", err)
	}
	if second != nil {
		t.Fatalf("two processing messages on one lane: %+v", second)
	}

	// Other lanes are unaffected.
	other, err := store.Dequeue(ctx, "w1", "c2")
	if err != nil || other == nil {
		t.Fatalf("sibling lane blocked: %+v %v", other, err)
	}

	// Completing frees the lane.
	if err := store.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	next, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil || next == nil {
		t.Fatalf("dequeue after complete: %+v %v", next, err)
	}
	if next.Content != "two" {
		t.Fatalf("expected FIFO order, got %q", next.Content)
	}
}

func TestQueue_PriorityBeatsArrivalOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "low-1", Priority: 0})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "high", Priority: 5})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "low-2", Priority: 0})

	m, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil || m == nil {
		t.Fatalf("dequeue: %+v %v", m, err)
	}
	if m.Content != "high" {
		t.Fatalf("expected priority 5 first, got %q", m.Content)
	}
}

func TestQueue_MarkFailedRespectsRetryBudget(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	id := enqueueTest(t, store, &domain.QueueMessage{
		WorldID: "w1", ChatID: "c1", Content: "flaky", MaxRetries: 2,
	})

	// First failure: budget remains, back to pending.
	if m, _ := store.Dequeue(ctx, "w1", "c1"); m == nil {
		t.Fatal("dequeue 1 returned nil")
	}
	status, err := store.MarkFailed(ctx, id, "boom")
	if err != nil {
		t.Fatalf("mark failed 1: %v", err)
	}
	if status != domain.QueuePending {
		t.Fatalf("expected pending after first failure, got %s", status)
	}

	// Second failure exhausts MaxRetries=2: terminal.
	if m, _ := store.Dequeue(ctx, "w1", "c1"); m == nil {
		t.Fatal("dequeue 2 returned nil")
	}
	status, err = store.MarkFailed(ctx, id, "boom again")
	if err != nil {
		t.Fatalf("mark failed 2: %v", err)
	}
	if status != domain.QueueFailed {
		t.Fatalf("expected failed after budget spent, got %s", status)
	}
	if m, _ := store.Dequeue(ctx, "w1", "c1"); m != nil {
		t.Fatalf("failed message dequeued: %+v", m)
	}

	// Explicit intervention resets the budget.
	retried, err := store.RetryMessage(ctx, id)
	if err != nil || !retried {
		t.Fatalf("retry message: ok=%v err=%v", retried, err)
	}
	m, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil || m == nil {
		t.Fatalf("dequeue after retry: %+v %v", m, err)
	}
	if m.RetryCount != 0 || m.Error != "" {
		t.Fatalf("retry did not reset budget: %+v", m)
	}

	if retried, _ := store.RetryMessage(ctx, m.ID); retried {
		t.Fatal("retry of a processing message should report false")
	}
}

func TestQueue_StaleHeartbeatRecovery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	id := enqueueTest(t, store, &domain.QueueMessage{
		WorldID: "w1", ChatID: "c1", Content: "doomed", TimeoutSeconds: 1,
	})
	if m, _ := store.Dequeue(ctx, "w1", "c1"); m == nil {
		t.Fatal("dequeue returned nil")
	}

	// Simulate a crashed worker: age the heartbeat past the timeout.
	stale := time.Now().UTC().Add(-time.Minute)
	if _, err := store.DB().Exec(
		`UPDATE queue_messages SET heartbeat_at = ?, processed_at = ? WHERE id = ?;`,
		stale, stale, id,
	); err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	result, err := store.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("detect stuck: %v", err)
	}
	if result.Requeued != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 requeued, got %+v", result)
	}

	// The message is dequeueable again with the retry count bumped.
	m, err := store.Dequeue(ctx, "w1", "c1")
	if err != nil || m == nil {
		t.Fatalf("dequeue after recovery: %+v %v", m, err)
	}
	if m.RetryCount != 1 {
		t.Fatalf("expected retry count 1 after recovery, got %d", m.RetryCount)
	}
	if m.Error != "heartbeat timeout" {
		t.Fatalf("expected heartbeat timeout error recorded, got %q", m.Error)
	}

	// A live processing message is never swept.
	result, err = store.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if result.Requeued != 0 || result.Failed != 0 {
		t.Fatalf("live message swept: %+v", result)
	}
}

func TestQueue_StatsAndDepth(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")
	saveTestChat(t, store, "w1", "c2")

	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "p1"})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "p2"})
	done := enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c2", Content: "d"})

	if m, _ := store.Dequeue(ctx, "w1", "c2"); m == nil {
		t.Fatal("dequeue returned nil")
	}
	if err := store.MarkCompleted(ctx, done); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	depth, err := store.Depth(ctx, "w1", "c1")
	if err != nil || depth != 2 {
		t.Fatalf("expected depth 2, got %d (%v)", depth, err)
	}

	stats, err := store.Stats(ctx, "w1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 2 || stats.Completed != 1 || stats.Processing != 0 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if len(stats.Lanes) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(stats.Lanes))
	}
	if stats.OldestPendingAge <= 0 {
		t.Fatal("expected nonzero oldest pending age")
	}
}

func TestQueue_CleanupRemovesOnlyOldTerminal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	oldDone := enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "old"})
	if m, _ := store.Dequeue(ctx, "w1", "c1"); m == nil {
		t.Fatal("dequeue returned nil")
	}
	if err := store.MarkCompleted(ctx, oldDone); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	// Age the completion stamp past the cutoff.
	if _, err := store.DB().Exec(
		`UPDATE queue_messages SET completed_at = ? WHERE id = ?;`,
		time.Now().UTC().Add(-48*time.Hour), oldDone,
	); err != nil {
		t.Fatalf("age completion: %v", err)
	}
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "fresh pending"})

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	depth, _ := store.Depth(ctx, "w1", "c1")
	if depth != 1 {
		t.Fatal("pending message removed by cleanup")
	}
}

func TestQueue_DeleteLane(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")
	saveTestChat(t, store, "w1", "c2")

	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "a"})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "b"})
	enqueueTest(t, store, &domain.QueueMessage{WorldID: "w1", ChatID: "c2", Content: "keep"})

	n, err := store.DeleteLane(ctx, "w1", "c1")
	if err != nil {
		t.Fatalf("delete lane: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	depth, _ := store.Depth(ctx, "w1", "c2")
	if depth != 1 {
		t.Fatal("sibling lane affected")
	}
}
