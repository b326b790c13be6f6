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

const chatColumns = `id, world_id, name, description, message_count, tags, created_at, updated_at`

// SaveChat upserts a chat row. Tags are stored as a JSON array.
func (s *Store) SaveChat(ctx context.Context, c *domain.Chat) error {
	if err := domain.ValidateLane(c.WorldID, c.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal chat tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, world_id, name, description, message_count, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, world_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			message_count = excluded.message_count,
			tags = excluded.tags,
			updated_at = excluded.updated_at;
	`, c.ID, c.WorldID, c.Name, c.Description, c.MessageCount, string(tags), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// LoadChat returns the chat or nil when missing.
func (s *Store) LoadChat(ctx context.Context, worldID, id string) (*domain.Chat, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+` FROM chats WHERE id = ? AND world_id = ?;
	`, id, worldID)
	c, err := scanChat(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load chat: %w", err)
	}
	return c, nil
}

// DeleteChat removes the chat and everything scoped to it: the snapshot (FK
// cascade), agent-memory messages tagged with the chat, the chat's event log
// and its queue entries, all in one transaction.
func (s *Store) DeleteChat(ctx context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete chat: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND world_id = ?;`, id, worldID)
	if err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete chat: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM agent_messages WHERE world_id = ? AND chat_id = ?;
	`, worldID, id); err != nil {
		return false, fmt.Errorf("delete chat memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM world_events WHERE world_id = ? AND chat_id = ?;
	`, worldID, id); err != nil {
		return false, fmt.Errorf("delete chat events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM queue_messages WHERE world_id = ? AND chat_id = ?;
	`, worldID, id); err != nil {
		return false, fmt.Errorf("delete chat queue messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete chat: commit: %w", err)
	}
	return true, nil
}

// ListChats returns the world's chats ordered by creation.
func (s *Store) ListChats(ctx context.Context, worldID string) ([]*domain.Chat, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats WHERE world_id = ? ORDER BY created_at ASC, id ASC;
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []*domain.Chat
	for rows.Next() {
		c, err := scanChat(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: iterate: %w", err)
	}
	return out, nil
}

// ChatExists reports whether a chat row exists.
func (s *Store) ChatExists(ctx context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM chats WHERE id = ? AND world_id = ?;
	`, id, worldID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chat exists: %w", err)
	}
	return true, nil
}

// UpdateChatNameIfCurrent renames the chat iff the stored name still equals
// expected. One conditional UPDATE, so a racing rename loses cleanly instead
// of clobbering.
func (s *Store) UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expected, next string) (bool, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND world_id = ? AND name = ?;
	`, next, chatID, worldID, expected)
	if err != nil {
		return false, fmt.Errorf("conditional chat rename: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional chat rename: rows affected: %w", err)
	}
	return n == 1, nil
}

// SaveSnapshot stores the chat's full-state capture as one JSON document.
func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.ChatSnapshot) error {
	if err := domain.ValidateLane(snap.WorldID, snap.ChatID); err != nil {
		return err
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_snapshots (world_id, chat_id, snapshot, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(world_id, chat_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			captured_at = excluded.captured_at;
	`, snap.WorldID, snap.ChatID, string(body), snap.CapturedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the chat's snapshot or nil when none was captured.
func (s *Store) LoadSnapshot(ctx context.Context, worldID, chatID string) (*domain.ChatSnapshot, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM chat_snapshots WHERE world_id = ? AND chat_id = ?;
	`, worldID, chatID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.ChatSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.World != nil {
		snap.World.AttachRuntime()
	}
	return &snap, nil
}

// RestoreSnapshot replaces the world's config and agents with the
// snapshot's capture. Returns false when no snapshot exists.
func (s *Store) RestoreSnapshot(ctx context.Context, worldID, chatID string) (bool, error) {
	snap, err := s.LoadSnapshot(ctx, worldID, chatID)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if snap.World != nil {
		w := snap.World
		if _, err := tx.ExecContext(ctx, `
			UPDATE worlds SET name = ?, description = ?, turn_limit = ?, main_agent = ?,
				chat_provider = ?, chat_model = ?, current_chat_id = NULLIF(?, ''),
				variables = ?, tool_config = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, w.Name, w.Description, w.TurnLimit, w.MainAgent,
			w.ChatProvider, w.ChatModel, chatID,
			w.Variables, w.ToolConfig, worldID); err != nil {
			return false, fmt.Errorf("restore world config: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE world_id = ?;`, worldID); err != nil {
		return false, fmt.Errorf("restore: clear agents: %w", err)
	}
	for _, a := range snap.Agents {
		a.WorldID = worldID
		if err := s.saveAgentTx(ctx, tx, a); err != nil {
			return false, fmt.Errorf("restore agent %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("restore snapshot: commit: %w", err)
	}
	return true, nil
}

func scanChat(scan func(dest ...any) error) (*domain.Chat, error) {
	var c domain.Chat
	var tags string
	if err := scan(&c.ID, &c.WorldID, &c.Name, &c.Description, &c.MessageCount,
		&tags, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
			return nil, fmt.Errorf("decode chat tags: %w", err)
		}
	}
	return &c, nil
}
