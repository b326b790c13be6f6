// Package queue defines the per-(world, chat) work queue contract and the
// background maintenance sweeper shared by its implementations.
//
// A lane is the (worldID, chatID) pair. The contract guarantees at most one
// message per lane is in the processing state at any instant; Dequeue on a
// busy lane is a nil no-op, not an error.
package queue

import (
	"context"
	"time"

	"github.com/agentworld/core/internal/domain"
)

// Queue is implemented by the SQL and in-memory backends. The two differ
// only in their atomicity mechanism (immediate transaction vs mutex); the
// state machine, heartbeat liveness and retry budget are identical.
type Queue interface {
	// Enqueue appends a message to its lane's tail in the pending state and
	// returns the assigned id. Zero MaxRetries/TimeoutSeconds take defaults.
	Enqueue(ctx context.Context, m *domain.QueueMessage) (string, error)

	// Dequeue atomically selects the highest-priority pending message on the
	// lane (ties broken by earliest creation) and flips it to processing.
	// Returns nil when the lane is empty or already has a processing item.
	Dequeue(ctx context.Context, worldID, chatID string) (*domain.QueueMessage, error)

	// UpdateHeartbeat refreshes the liveness stamp of a processing message.
	// Returns false when the message is not processing.
	UpdateHeartbeat(ctx context.Context, id string) (bool, error)

	// MarkCompleted moves a processing message to completed.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed records a worker-reported error and applies the retry
	// decision: back to pending with the retry count bumped, or failed once
	// the budget is spent. Returns the resulting status.
	MarkFailed(ctx context.Context, id, errMsg string) (domain.QueueStatus, error)

	// RetryMessage is the explicit intervention path for terminal failures:
	// it resets a failed message to pending with a fresh retry budget.
	// Returns false when the message is missing or not failed.
	RetryMessage(ctx context.Context, id string) (bool, error)

	// DetectStuckMessages finds processing messages whose heartbeat is older
	// than their own timeout and applies the same retry-vs-terminal decision
	// as MarkFailed. This is the recovery path for crashed workers.
	DetectStuckMessages(ctx context.Context) (SweepResult, error)

	// Depth returns the number of pending messages on one lane.
	Depth(ctx context.Context, worldID, chatID string) (int, error)

	// Stats aggregates per-status counts and latency figures for a world.
	Stats(ctx context.Context, worldID string) (*Stats, error)

	// Cleanup deletes terminal messages older than the cutoff and returns
	// the removed count.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// DeleteLane removes every message on one lane regardless of status,
	// returning the removed count. Used by chat cascade deletes.
	DeleteLane(ctx context.Context, worldID, chatID string) (int64, error)
}

// SweepResult counts the outcomes of one stuck-detection pass.
type SweepResult struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}

// LaneStats holds per-lane status counts.
type LaneStats struct {
	WorldID    string `json:"world_id"`
	ChatID     string `json:"chat_id"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// Stats aggregates queue state for one world.
type Stats struct {
	WorldID    string `json:"world_id"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`

	// OldestPendingAge is zero when nothing is pending.
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	// AvgProcessingTime is the mean completed-message latency
	// (completed_at - processed_at); zero when nothing has completed.
	AvgProcessingTime time.Duration `json:"avg_processing_time"`

	Lanes []LaneStats `json:"lanes,omitempty"`
}
