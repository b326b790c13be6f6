package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentworld/core/internal/domain"
)

const agentColumns = `id, world_id, name, type, status, provider, model, system_prompt,
	temperature, max_tokens, llm_call_count, created_at, last_active`

// SaveAgent upserts the agent row and replaces its memory in one
// transaction. System-role messages are filtered before insert.
func (s *Store) SaveAgent(ctx context.Context, a *domain.Agent) error {
	if err := domain.ValidateID("world", a.WorldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", a.ID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save agent: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveAgentTx(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save agent: commit: %w", err)
	}
	return nil
}

func (s *Store) saveAgentTx(ctx context.Context, tx *sql.Tx, a *domain.Agent) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.LastActive.IsZero() {
		a.LastActive = now
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agents (id, world_id, name, type, status, provider, model,
			system_prompt, temperature, max_tokens, llm_call_count, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, world_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			status = excluded.status,
			provider = excluded.provider,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			llm_call_count = excluded.llm_call_count,
			last_active = excluded.last_active;
	`, a.ID, a.WorldID, a.Name, a.Type, a.Status, a.Provider, a.Model,
		a.SystemPrompt, a.Temperature, a.MaxTokens, a.LLMCallCount, a.CreatedAt, a.LastActive); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return s.replaceMemoryTx(ctx, tx, a.WorldID, a.ID, a.Memory)
}

// replaceMemoryTx is delete-then-reinsert so a shrinking memory slice never
// leaves stale rows behind.
func (s *Store) replaceMemoryTx(ctx context.Context, tx *sql.Tx, worldID, agentID string, memory []domain.Message) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM agent_messages WHERE world_id = ? AND agent_id = ?;
	`, worldID, agentID); err != nil {
		return fmt.Errorf("clear agent memory: %w", err)
	}
	for i, m := range domain.PersistableMemory(memory) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_messages (world_id, agent_id, memory_index, role, content,
				sender, chat_id, message_id, reply_to_message_id, tool_calls, created_at)
			VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?);
		`, worldID, agentID, i, string(m.Role), m.Content,
			m.Sender, m.ChatID, m.MessageID, m.ReplyToMessageID, m.ToolCalls, m.CreatedAt); err != nil {
			return fmt.Errorf("insert agent message: %w", err)
		}
	}
	return nil
}

// ReplaceAgentMemory swaps the agent's entire memory without touching the
// agent row. A missing agent is a no-op, like the memory-file rewrite on
// the other backends.
func (s *Store) ReplaceAgentMemory(ctx context.Context, worldID, agentID string, memory []domain.Message) error {
	if err := domain.ValidateID("world", worldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", agentID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace agent memory: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM agents WHERE id = ? AND world_id = ?;
	`, agentID, worldID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("replace agent memory: %w", err)
	}
	if err := s.replaceMemoryTx(ctx, tx, worldID, agentID, memory); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace agent memory: commit: %w", err)
	}
	return nil
}

// LoadAgent returns the agent with its ordered memory, or nil when missing.
func (s *Store) LoadAgent(ctx context.Context, worldID, id string) (*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE id = ? AND world_id = ?;
	`, id, worldID)
	a, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}
	memory, err := s.loadMemory(ctx, worldID, id)
	if err != nil {
		return nil, err
	}
	a.Memory = memory
	return a, nil
}

func (s *Store) loadMemory(ctx context.Context, worldID, agentID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sender, COALESCE(chat_id, ''), message_id,
			COALESCE(reply_to_message_id, ''), COALESCE(tool_calls, ''), created_at
		FROM agent_messages
		WHERE world_id = ? AND agent_id = ?
		ORDER BY memory_index ASC;
	`, worldID, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent memory: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Sender, &m.ChatID, &m.MessageID,
			&m.ReplyToMessageID, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent message: %w", err)
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load agent memory: iterate: %w", err)
	}
	return out, nil
}

// DeleteAgent removes the agent; memory rows go via foreign-key cascade.
func (s *Store) DeleteAgent(ctx context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return false, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND world_id = ?;`, id, worldID)
	if err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete agent: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListAgents returns the world's agents with memory, ordered by creation.
func (s *Store) ListAgents(ctx context.Context, worldID string) ([]*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE world_id = ? ORDER BY created_at ASC, id ASC;
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: iterate: %w", err)
	}
	for _, a := range out {
		memory, err := s.loadMemory(ctx, worldID, a.ID)
		if err != nil {
			return nil, err
		}
		a.Memory = memory
	}
	return out, nil
}

// SaveAgentsBatch saves all agents in one transaction; this is the native
// batch path behind storage.SaveAgents.
func (s *Store) SaveAgentsBatch(ctx context.Context, agents []*domain.Agent) error {
	if len(agents) == 0 {
		return nil
	}
	for _, a := range agents {
		if err := domain.ValidateID("world", a.WorldID); err != nil {
			return err
		}
		if err := domain.ValidateID("agent", a.ID); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save agents batch: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range agents {
		if err := s.saveAgentTx(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save agents batch: commit: %w", err)
	}
	return nil
}

// LoadAgentsBatch loads the named agents, skipping missing ones.
func (s *Store) LoadAgentsBatch(ctx context.Context, worldID string, ids []string) ([]*domain.Agent, error) {
	out := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.LoadAgent(ctx, worldID, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func scanAgent(scan func(dest ...any) error) (*domain.Agent, error) {
	var a domain.Agent
	if err := scan(
		&a.ID, &a.WorldID, &a.Name, &a.Type, &a.Status, &a.Provider, &a.Model,
		&a.SystemPrompt, &a.Temperature, &a.MaxTokens, &a.LLMCallCount,
		&a.CreatedAt, &a.LastActive,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
