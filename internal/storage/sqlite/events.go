package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentworld/core/internal/domain"
)

// AppendEvent mints the lane's next seq and inserts the event. The read of
// max(seq) and the insert share one immediate-mode transaction, so two
// concurrent appenders can never observe the same maximum.
func (s *Store) AppendEvent(ctx context.Context, e *domain.StoredEvent) (int64, error) {
	if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
		return 0, err
	}
	var seq int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("append event: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		seq, err = s.appendEventTx(ctx, tx, e)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	e.Seq = seq
	return seq, nil
}

// AppendEvents appends a batch in order with consecutive seq values inside
// one transaction; a failure stores none of them.
func (s *Store) AppendEvents(ctx context.Context, events []*domain.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
			return err
		}
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("append events: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, e := range events {
			seq, err := s.appendEventTx(ctx, tx, e)
			if err != nil {
				return err
			}
			e.Seq = seq
		}
		return tx.Commit()
	})
}

func (s *Store) appendEventTx(ctx context.Context, tx *sql.Tx, e *domain.StoredEvent) (int64, error) {
	var one int
	if err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM worlds WHERE id = ?;
	`, e.WorldID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("append event: world %q not found", e.WorldID)
		}
		return 0, fmt.Errorf("append event: %w", err)
	}
	var maxSeq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM world_events WHERE world_id = ? AND chat_id = ?;
	`, e.WorldID, e.ChatID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	seq := maxSeq + 1

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO world_events (world_id, chat_id, seq, type, payload, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, e.WorldID, e.ChatID, seq, e.Type, rawOrEmpty(e.Payload), rawOrEmpty(e.Meta), createdAt); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	e.CreatedAt = createdAt
	return seq, nil
}

// ListEvents returns the lane's events ordered by (seq, created_at)
// ascending, with optional incremental (AfterSeq) and paginated
// (Limit/Offset) bounds.
func (s *Store) ListEvents(ctx context.Context, worldID, chatID string, q domain.EventQuery) ([]*domain.StoredEvent, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit, required for OFFSET
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT world_id, chat_id, seq, type, payload, meta, created_at
		FROM world_events
		WHERE world_id = ? AND chat_id = ? AND seq > ?
		ORDER BY seq ASC, created_at ASC
		LIMIT ? OFFSET ?;
	`, worldID, chatID, q.AfterSeq, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*domain.StoredEvent
	for rows.Next() {
		var e domain.StoredEvent
		var payload, meta string
		if err := rows.Scan(&e.WorldID, &e.ChatID, &e.Seq, &e.Type, &payload, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.Meta = json.RawMessage(meta)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: iterate: %w", err)
	}
	return out, nil
}

// DeleteEvents removes every event for one lane, returning the count.
func (s *Store) DeleteEvents(ctx context.Context, worldID, chatID string) (int64, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM world_events WHERE world_id = ? AND chat_id = ?;
	`, worldID, chatID)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events: rows affected: %w", err)
	}
	return n, nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
