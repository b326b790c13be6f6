package memory

import (
	"context"
	"testing"
	"time"

	"github.com/agentworld/core/internal/domain"
)

func TestQueue_SingleProcessingPerLane(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for _, content := range []string{"one", "two"} {
		if _, err := q.Enqueue(ctx, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: content}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	first, err := q.Dequeue(ctx, "w1", "c1")
	if err != nil || first == nil {
		t.Fatalf("first dequeue: %+v %v", first, err)
	}
	if second, err := q.Dequeue(ctx, "w1", "c1"); err != nil || second != nil {
		t.Fatalf("busy lane should yield nil, got %+v %v", second, err)
	}
	if err := q.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	next, err := q.Dequeue(ctx, "w1", "c1")
	if err != nil || next == nil || next.Content != "two" {
		t.Fatalf("expected FIFO next, got %+v %v", next, err)
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for _, m := range []*domain.QueueMessage{
		{WorldID: "w1", ChatID: "c1", Content: "low-1", Priority: 0},
		{WorldID: "w1", ChatID: "c1", Content: "high", Priority: 5},
		{WorldID: "w1", ChatID: "c1", Content: "low-2", Priority: 0},
	} {
		if _, err := q.Enqueue(ctx, m); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	m, err := q.Dequeue(ctx, "w1", "c1")
	if err != nil || m == nil || m.Content != "high" {
		t.Fatalf("expected priority 5 first, got %+v %v", m, err)
	}
}

func TestQueue_DequeueReturnsCopy(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	id, err := q.Enqueue(ctx, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "original"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	m, err := q.Dequeue(ctx, "w1", "c1")
	if err != nil || m == nil {
		t.Fatalf("dequeue: %+v %v", m, err)
	}
	m.Content = "tampered"

	q.mu.Lock()
	stored := q.messages[id].Content
	q.mu.Unlock()
	if stored != "original" {
		t.Fatalf("caller mutated stored message: %q", stored)
	}
}

func TestQueue_StuckRecoveryMatchesRetryBudget(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &domain.QueueMessage{
		WorldID: "w1", ChatID: "c1", Content: "doomed", MaxRetries: 2, TimeoutSeconds: 1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ageHeartbeat := func() {
		stale := time.Now().UTC().Add(-time.Minute)
		q.mu.Lock()
		q.messages[id].HeartbeatAt = &stale
		q.messages[id].ProcessedAt = &stale
		q.mu.Unlock()
	}

	// First stall: requeued with the count bumped.
	if m, _ := q.Dequeue(ctx, "w1", "c1"); m == nil {
		t.Fatal("dequeue 1 returned nil")
	}
	ageHeartbeat()
	result, err := q.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	if result.Requeued != 1 || result.Failed != 0 {
		t.Fatalf("expected requeue, got %+v", result)
	}

	m, _ := q.Dequeue(ctx, "w1", "c1")
	if m == nil || m.RetryCount != 1 {
		t.Fatalf("expected redelivery with retry count 1, got %+v", m)
	}

	// Second stall exhausts MaxRetries=2: terminal failure.
	ageHeartbeat()
	result, err = q.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	if result.Failed != 1 || result.Requeued != 0 {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	if m, _ := q.Dequeue(ctx, "w1", "c1"); m != nil {
		t.Fatalf("failed message redelivered: %+v", m)
	}

	if ok, _ := q.RetryMessage(ctx, id); !ok {
		t.Fatal("explicit retry of failed message refused")
	}
	if m, _ := q.Dequeue(ctx, "w1", "c1"); m == nil || m.RetryCount != 0 {
		t.Fatalf("retry did not reset budget: %+v", m)
	}
}

func TestQueue_StatsCleanupDeleteLane(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, &domain.QueueMessage{WorldID: "w1", ChatID: "c1", Content: "p"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	doneID, err := q.Enqueue(ctx, &domain.QueueMessage{WorldID: "w1", ChatID: "c2", Content: "d"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if m, _ := q.Dequeue(ctx, "w1", "c2"); m == nil {
		t.Fatal("dequeue returned nil")
	}
	if err := q.MarkCompleted(ctx, doneID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	stats, err := q.Stats(ctx, "w1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 1 || len(stats.Lanes) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Fresh terminal message survives a 24h cutoff.
	removed, err := q.Cleanup(ctx, 24*time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("fresh cleanup: removed=%d err=%v", removed, err)
	}
	// Aged terminal message is pruned.
	old := time.Now().UTC().Add(-48 * time.Hour)
	q.mu.Lock()
	q.messages[doneID].CompletedAt = &old
	q.mu.Unlock()
	removed, err = q.Cleanup(ctx, 24*time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("aged cleanup: removed=%d err=%v", removed, err)
	}

	n, err := q.DeleteLane(ctx, "w1", "c1")
	if err != nil || n != 1 {
		t.Fatalf("delete lane: n=%d err=%v", n, err)
	}
	depth, _ := q.Depth(ctx, "w1", "c1")
	if depth != 0 {
		t.Fatal("lane not cleared")
	}
}
