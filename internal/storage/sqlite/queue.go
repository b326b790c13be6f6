package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/core/internal/domain"
	"github.com/agentworld/core/internal/queue"
)

const queueColumns = `id, world_id, chat_id, message_id, content, sender, status, priority,
	created_at, processed_at, heartbeat_at, completed_at, COALESCE(error, ''),
	retry_count, max_retries, timeout_seconds`

// Enqueue appends a message to its lane's tail in the pending state.
func (s *Store) Enqueue(ctx context.Context, m *domain.QueueMessage) (string, error) {
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

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO queue_messages (id, world_id, chat_id, message_id, content, sender,
				status, priority, created_at, retry_count, max_retries, timeout_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?);
		`, m.ID, m.WorldID, m.ChatID, m.MessageID, m.Content, m.Sender,
			domain.QueuePending, m.Priority, m.CreatedAt, m.MaxRetries, m.TimeoutSeconds)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return m.ID, nil
}

// Dequeue claims the lane's best pending message. The lane-busy check, the
// selection and the flip to processing run in one immediate-mode
// transaction, so racing dequeuers on the same lane cannot both win.
// A busy or empty lane returns nil, an expected outcome rather than an error.
func (s *Store) Dequeue(ctx context.Context, worldID, chatID string) (*domain.QueueMessage, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	var result *domain.QueueMessage
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dequeue: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var inFlight int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM queue_messages
			WHERE world_id = ? AND chat_id = ? AND status = ?;
		`, worldID, chatID, domain.QueueProcessing).Scan(&inFlight); err != nil {
			return fmt.Errorf("dequeue: check lane: %w", err)
		}
		if inFlight > 0 {
			result = nil
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+queueColumns+`
			FROM queue_messages
			WHERE world_id = ? AND chat_id = ? AND status = ?
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1;
		`, worldID, chatID, domain.QueuePending)
		m, err := scanQueueMessage(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result = nil
				return nil
			}
			return fmt.Errorf("dequeue: select pending: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_messages
			SET status = ?, processed_at = ?, heartbeat_at = ?
			WHERE id = ? AND status = ?;
		`, domain.QueueProcessing, now, now, m.ID, domain.QueuePending)
		if err != nil {
			return fmt.Errorf("dequeue: claim: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			if err != nil {
				return fmt.Errorf("dequeue: claim rows: %w", err)
			}
			result = nil
			return tx.Commit()
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dequeue: commit: %w", err)
		}
		m.Status = domain.QueueProcessing
		m.ProcessedAt = &now
		m.HeartbeatAt = &now
		result = m
		return nil
	})
	return result, err
}

// UpdateHeartbeat refreshes a processing message's liveness stamp.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET heartbeat_at = ? WHERE id = ? AND status = ?;
	`, time.Now().UTC(), id, domain.QueueProcessing)
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update heartbeat: rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkCompleted moves a processing message to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET status = ?, completed_at = ?, error = NULL
		WHERE id = ? AND status = ?;
	`, domain.QueueCompleted, time.Now().UTC(), id, domain.QueueProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark completed: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark completed: message %q is not processing", id)
	}
	return nil
}

// MarkFailed records a worker-reported error and applies the retry budget:
// pending with the count bumped while budget remains, failed once spent.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) (domain.QueueStatus, error) {
	var status domain.QueueStatus
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("mark failed: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		st, err := s.failMessageTx(ctx, tx, id, errMsg)
		if err != nil {
			return err
		}
		status = st
		return tx.Commit()
	})
	return status, err
}

// failMessageTx applies the retry-vs-terminal decision to one processing
// message. Shared by MarkFailed and the stuck sweep.
func (s *Store) failMessageTx(ctx context.Context, tx *sql.Tx, id, errMsg string) (domain.QueueStatus, error) {
	var retryCount, maxRetries int
	err := tx.QueryRowContext(ctx, `
		SELECT retry_count, max_retries FROM queue_messages WHERE id = ? AND status = ?;
	`, id, domain.QueueProcessing).Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("mark failed: message %q is not processing", id)
	}
	if err != nil {
		return "", fmt.Errorf("mark failed: read retry budget: %w", err)
	}

	retryCount++
	if retryCount >= maxRetries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_messages
			SET status = ?, retry_count = ?, error = ?, completed_at = ?,
				processed_at = NULL, heartbeat_at = NULL
			WHERE id = ?;
		`, domain.QueueFailed, retryCount, errMsg, time.Now().UTC(), id); err != nil {
			return "", fmt.Errorf("mark failed: terminal update: %w", err)
		}
		return domain.QueueFailed, nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = ?, retry_count = ?, error = ?,
			processed_at = NULL, heartbeat_at = NULL
		WHERE id = ?;
	`, domain.QueuePending, retryCount, errMsg, id); err != nil {
		return "", fmt.Errorf("mark failed: requeue update: %w", err)
	}
	return domain.QueuePending, nil
}

// RetryMessage resets a terminally failed message to pending with a fresh
// retry budget. Returns false when the message is missing or not failed.
func (s *Store) RetryMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = ?, retry_count = 0, error = NULL,
			processed_at = NULL, heartbeat_at = NULL, completed_at = NULL
		WHERE id = ? AND status = ?;
	`, domain.QueuePending, id, domain.QueueFailed)
	if err != nil {
		return false, fmt.Errorf("retry message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry message: rows affected: %w", err)
	}
	return n == 1, nil
}

// DetectStuckMessages resets processing messages whose heartbeat is older
// than their own timeout, incrementing the retry count, or fails them once
// the budget is spent. This recovers lanes abandoned by crashed workers.
func (s *Store) DetectStuckMessages(ctx context.Context) (queue.SweepResult, error) {
	var result queue.SweepResult
	err := retryOnBusy(ctx, 5, func() error {
		result = queue.SweepResult{}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("detect stuck: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT `+queueColumns+` FROM queue_messages WHERE status = ?;
		`, domain.QueueProcessing)
		if err != nil {
			return fmt.Errorf("detect stuck: query: %w", err)
		}
		var stuck []*domain.QueueMessage
		now := time.Now().UTC()
		for rows.Next() {
			m, err := scanQueueMessage(rows.Scan)
			if err != nil {
				rows.Close()
				return fmt.Errorf("detect stuck: scan: %w", err)
			}
			if m.Stuck(now) {
				stuck = append(stuck, m)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("detect stuck: iterate: %w", err)
		}
		rows.Close()

		for _, m := range stuck {
			status, err := s.failMessageTx(ctx, tx, m.ID, "heartbeat timeout")
			if err != nil {
				return err
			}
			if status == domain.QueueFailed {
				result.Failed++
			} else {
				result.Requeued++
			}
		}
		return tx.Commit()
	})
	return result, err
}

// Depth returns the number of pending messages on one lane.
func (s *Store) Depth(ctx context.Context, worldID, chatID string) (int, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM queue_messages WHERE world_id = ? AND chat_id = ? AND status = ?;
	`, worldID, chatID, domain.QueuePending).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Stats aggregates per-status counts per lane, the oldest pending age and
// the mean completed processing latency for one world.
func (s *Store) Stats(ctx context.Context, worldID string) (*queue.Stats, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	stats := &queue.Stats{WorldID: worldID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, status, COUNT(1)
		FROM queue_messages WHERE world_id = ?
		GROUP BY chat_id, status ORDER BY chat_id ASC;
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	lanes := map[string]*queue.LaneStats{}
	var laneOrder []string
	for rows.Next() {
		var chatID, status string
		var count int
		if err := rows.Scan(&chatID, &status, &count); err != nil {
			return nil, fmt.Errorf("queue stats: scan: %w", err)
		}
		lane, ok := lanes[chatID]
		if !ok {
			lane = &queue.LaneStats{WorldID: worldID, ChatID: chatID}
			lanes[chatID] = lane
			laneOrder = append(laneOrder, chatID)
		}
		switch domain.QueueStatus(status) {
		case domain.QueuePending:
			lane.Pending += count
			stats.Pending += count
		case domain.QueueProcessing:
			lane.Processing += count
			stats.Processing += count
		case domain.QueueCompleted:
			lane.Completed += count
			stats.Completed += count
		case domain.QueueFailed:
			lane.Failed += count
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: iterate: %w", err)
	}
	for _, chatID := range laneOrder {
		stats.Lanes = append(stats.Lanes, *lanes[chatID])
	}

	var oldest sql.NullTime
	if err := s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM queue_messages WHERE world_id = ? AND status = ?;
	`, worldID, domain.QueuePending).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("queue stats: oldest pending: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAge = time.Since(oldest.Time)
	}

	latRows, err := s.db.QueryContext(ctx, `
		SELECT processed_at, completed_at FROM queue_messages
		WHERE world_id = ? AND status = ? AND processed_at IS NOT NULL AND completed_at IS NOT NULL;
	`, worldID, domain.QueueCompleted)
	if err != nil {
		return nil, fmt.Errorf("queue stats: latency: %w", err)
	}
	defer latRows.Close()

	var total time.Duration
	var completed int
	for latRows.Next() {
		var processed, done time.Time
		if err := latRows.Scan(&processed, &done); err != nil {
			return nil, fmt.Errorf("queue stats: latency scan: %w", err)
		}
		total += done.Sub(processed)
		completed++
	}
	if err := latRows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: latency iterate: %w", err)
	}
	if completed > 0 {
		stats.AvgProcessingTime = total / time.Duration(completed)
	}
	return stats, nil
}

// Cleanup deletes terminal messages older than the cutoff.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE status IN (?, ?) AND COALESCE(completed_at, created_at) < ?;
	`, domain.QueueCompleted, domain.QueueFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue cleanup: rows affected: %w", err)
	}
	return n, nil
}

// DeleteLane removes every message on one lane regardless of status.
func (s *Store) DeleteLane(ctx context.Context, worldID, chatID string) (int64, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_messages WHERE world_id = ? AND chat_id = ?;
	`, worldID, chatID)
	if err != nil {
		return 0, fmt.Errorf("delete lane: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete lane: rows affected: %w", err)
	}
	return n, nil
}

func scanQueueMessage(scan func(dest ...any) error) (*domain.QueueMessage, error) {
	var m domain.QueueMessage
	var status string
	var processed, heartbeat, completed sql.NullTime
	if err := scan(
		&m.ID, &m.WorldID, &m.ChatID, &m.MessageID, &m.Content, &m.Sender, &status,
		&m.Priority, &m.CreatedAt, &processed, &heartbeat, &completed, &m.Error,
		&m.RetryCount, &m.MaxRetries, &m.TimeoutSeconds,
	); err != nil {
		return nil, err
	}
	m.Status = domain.QueueStatus(status)
	m.ProcessedAt = timePtr(processed)
	m.HeartbeatAt = timePtr(heartbeat)
	m.CompletedAt = timePtr(completed)
	return &m, nil
}
