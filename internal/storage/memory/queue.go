package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/core/internal/domain"
	"github.com/agentworld/core/internal/queue"
)

// Queue is the in-memory work queue. The mutex is its atomicity mechanism:
// every state transition runs under one lock hold, which gives the same
// single-processing-per-lane guarantee the SQL backend gets from an
// immediate-mode transaction. It also serves the file backend, which has no
// cross-process dequeue atomicity of its own.
type Queue struct {
	mu       sync.Mutex
	messages map[string]*domain.QueueMessage
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{messages: make(map[string]*domain.QueueMessage)}
}

func (q *Queue) Enqueue(_ context.Context, m *domain.QueueMessage) (string, error) {
	if err := domain.ValidateLane(m.WorldID, m.ChatID); err != nil {
		return "", err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = domain.DefaultMaxRetries
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Status = domain.QueuePending

	cp, err := deepCopy(m)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[cp.ID] = cp
	return cp.ID, nil
}

// Dequeue claims the lane's best pending message under the lock: busy-check,
// selection and the flip to processing are one critical section. A busy or
// empty lane returns nil, not an error.
func (q *Queue) Dequeue(_ context.Context, worldID, chatID string) (*domain.QueueMessage, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *domain.QueueMessage
	for _, m := range q.messages {
		if m.WorldID != worldID || m.ChatID != chatID {
			continue
		}
		if m.Status == domain.QueueProcessing {
			return nil, nil
		}
		if m.Status != domain.QueuePending {
			continue
		}
		if best == nil || queueLess(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	best.Status = domain.QueueProcessing
	best.ProcessedAt = &now
	best.HeartbeatAt = &now
	return deepCopy(best)
}

// queueLess orders pending messages: priority descending, then creation time
// ascending, then id ascending as the final tiebreak.
func queueLess(a, b *domain.QueueMessage) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (q *Queue) UpdateHeartbeat(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.messages[id]
	if !ok || m.Status != domain.QueueProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	m.HeartbeatAt = &now
	return true, nil
}

func (q *Queue) MarkCompleted(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.messages[id]
	if !ok || m.Status != domain.QueueProcessing {
		return fmt.Errorf("mark completed: message %q is not processing", id)
	}
	now := time.Now().UTC()
	m.Status = domain.QueueCompleted
	m.CompletedAt = &now
	m.Error = ""
	return nil
}

func (q *Queue) MarkFailed(_ context.Context, id, errMsg string) (domain.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.messages[id]
	if !ok || m.Status != domain.QueueProcessing {
		return "", fmt.Errorf("mark failed: message %q is not processing", id)
	}
	return failLocked(m, errMsg), nil
}

// failLocked applies the retry-vs-terminal decision to one processing
// message. Shared by MarkFailed and the stuck sweep. Caller holds the lock.
func failLocked(m *domain.QueueMessage, errMsg string) domain.QueueStatus {
	m.RetryCount++
	m.Error = errMsg
	m.ProcessedAt = nil
	m.HeartbeatAt = nil
	if m.RetryCount >= m.MaxRetries {
		now := time.Now().UTC()
		m.Status = domain.QueueFailed
		m.CompletedAt = &now
		return domain.QueueFailed
	}
	m.Status = domain.QueuePending
	return domain.QueuePending
}

func (q *Queue) RetryMessage(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.messages[id]
	if !ok || m.Status != domain.QueueFailed {
		return false, nil
	}
	m.Status = domain.QueuePending
	m.RetryCount = 0
	m.Error = ""
	m.ProcessedAt = nil
	m.HeartbeatAt = nil
	m.CompletedAt = nil
	return true, nil
}

func (q *Queue) DetectStuckMessages(_ context.Context) (queue.SweepResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result queue.SweepResult
	now := time.Now().UTC()
	for _, m := range q.messages {
		if !m.Stuck(now) {
			continue
		}
		if failLocked(m, "heartbeat timeout") == domain.QueueFailed {
			result.Failed++
		} else {
			result.Requeued++
		}
	}
	return result, nil
}

func (q *Queue) Depth(_ context.Context, worldID, chatID string) (int, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.messages {
		if m.WorldID == worldID && m.ChatID == chatID && m.Status == domain.QueuePending {
			n++
		}
	}
	return n, nil
}

func (q *Queue) Stats(_ context.Context, worldID string) (*queue.Stats, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &queue.Stats{WorldID: worldID}
	lanes := map[string]*queue.LaneStats{}
	var oldestPending *time.Time
	var totalLatency time.Duration
	completed := 0

	for _, m := range q.messages {
		if m.WorldID != worldID {
			continue
		}
		lane, ok := lanes[m.ChatID]
		if !ok {
			lane = &queue.LaneStats{WorldID: worldID, ChatID: m.ChatID}
			lanes[m.ChatID] = lane
		}
		switch m.Status {
		case domain.QueuePending:
			lane.Pending++
			stats.Pending++
			if oldestPending == nil || m.CreatedAt.Before(*oldestPending) {
				t := m.CreatedAt
				oldestPending = &t
			}
		case domain.QueueProcessing:
			lane.Processing++
			stats.Processing++
		case domain.QueueCompleted:
			lane.Completed++
			stats.Completed++
			if m.ProcessedAt != nil && m.CompletedAt != nil {
				totalLatency += m.CompletedAt.Sub(*m.ProcessedAt)
				completed++
			}
		case domain.QueueFailed:
			lane.Failed++
			stats.Failed++
		}
	}

	laneIDs := make([]string, 0, len(lanes))
	for id := range lanes {
		laneIDs = append(laneIDs, id)
	}
	sort.Strings(laneIDs)
	for _, id := range laneIDs {
		stats.Lanes = append(stats.Lanes, *lanes[id])
	}
	if oldestPending != nil {
		stats.OldestPendingAge = time.Since(*oldestPending)
	}
	if completed > 0 {
		stats.AvgProcessingTime = totalLatency / time.Duration(completed)
	}
	return stats, nil
}

func (q *Queue) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed int64
	for id, m := range q.messages {
		if !m.Status.Terminal() {
			continue
		}
		ref := m.CreatedAt
		if m.CompletedAt != nil {
			ref = *m.CompletedAt
		}
		if ref.Before(cutoff) {
			delete(q.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (q *Queue) DeleteLane(_ context.Context, worldID, chatID string) (int64, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed int64
	for id, m := range q.messages {
		if m.WorldID == worldID && m.ChatID == chatID {
			delete(q.messages, id)
			removed++
		}
	}
	return removed, nil
}
