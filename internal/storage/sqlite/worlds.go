package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentworld/core/internal/domain"
)

const worldColumns = `id, name, description, turn_limit, main_agent, chat_provider,
	chat_model, COALESCE(current_chat_id, ''), variables, tool_config, created_at, updated_at`

// SaveWorld upserts the world's persisted fields. Runtime state (bus, agent
// index) is represented only by the explicit column list and never stored.
func (s *Store) SaveWorld(ctx context.Context, w *domain.World) error {
	if err := domain.ValidateID("world", w.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worlds (id, name, description, turn_limit, main_agent, chat_provider,
			chat_model, current_chat_id, variables, tool_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			turn_limit = excluded.turn_limit,
			main_agent = excluded.main_agent,
			chat_provider = excluded.chat_provider,
			chat_model = excluded.chat_model,
			current_chat_id = excluded.current_chat_id,
			variables = excluded.variables,
			tool_config = excluded.tool_config,
			updated_at = excluded.updated_at;
	`, w.ID, w.Name, w.Description, w.TurnLimit, w.MainAgent, w.ChatProvider,
		w.ChatModel, w.CurrentChatID, w.Variables, w.ToolConfig, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

// LoadWorld returns the world with fresh runtime state, or nil when missing.
func (s *Store) LoadWorld(ctx context.Context, id string) (*domain.World, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+worldColumns+` FROM worlds WHERE id = ?;`, id)
	w, err := scanWorld(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load world: %w", err)
	}
	return w, nil
}

// DeleteWorld removes the world and everything under it. Agents, chats,
// memory and snapshots go via foreign-key cascade; events and queue rows are
// keyed by world_id only and removed explicitly in the same transaction.
func (s *Store) DeleteWorld(ctx context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete world: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM worlds WHERE id = ?;`, id)
	if err != nil {
		return false, fmt.Errorf("delete world: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete world: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM world_events WHERE world_id = ?;`, id); err != nil {
		return false, fmt.Errorf("delete world events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE world_id = ?;`, id); err != nil {
		return false, fmt.Errorf("delete world queue messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete world: commit: %w", err)
	}
	return true, nil
}

// ListWorlds returns all worlds ordered by creation time.
func (s *Store) ListWorlds(ctx context.Context) ([]*domain.World, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+worldColumns+` FROM worlds ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []*domain.World
	for rows.Next() {
		w, err := scanWorld(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list worlds: iterate: %w", err)
	}
	return out, nil
}

// WorldExists reports whether a world row exists.
func (s *Store) WorldExists(ctx context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM worlds WHERE id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("world exists: %w", err)
	}
	return true, nil
}

func scanWorld(scan func(dest ...any) error) (*domain.World, error) {
	var w domain.World
	if err := scan(
		&w.ID, &w.Name, &w.Description, &w.TurnLimit, &w.MainAgent, &w.ChatProvider,
		&w.ChatModel, &w.CurrentChatID, &w.Variables, &w.ToolConfig, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	w.AttachRuntime()
	return &w, nil
}
