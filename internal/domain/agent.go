package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an LLM-backed actor inside a world. Agents are uniquely keyed by
// (ID, WorldID); the same agent ID may exist in different worlds.
type Agent struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"world_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	Status       string    `json:"status,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	LLMCallCount int       `json:"llm_call_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`

	// Memory is the agent's ordered conversation history. Saves replace it
	// wholesale; system-role entries are dropped before they reach storage.
	Memory []Message `json:"memory,omitempty"`
}

// Role classifies a memory entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem exists at runtime only; persistence filters it out.
	RoleSystem Role = "system"
)

// Message is one unit of agent memory. Every persisted message carries a
// globally unique MessageID; legacy records without one are repaired in
// place by EnsureMessageID on load and save.
type Message struct {
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Sender           string    `json:"sender,omitempty"`
	ChatID           string    `json:"chat_id,omitempty"`
	MessageID        string    `json:"message_id"`
	ReplyToMessageID string    `json:"reply_to_message_id,omitempty"`
	ToolCalls        string    `json:"tool_calls,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EnsureMessageID backfills a missing message ID and timestamp. Returns true
// when the message was modified.
func (m *Message) EnsureMessageID() bool {
	changed := false
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
		changed = true
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
		changed = true
	}
	return changed
}

// PersistableMemory returns the subset of memory that may be written to
// storage: system-role entries are dropped and missing message IDs are
// minted. The returned slice is a copy; the input is not modified.
func PersistableMemory(memory []Message) []Message {
	out := make([]Message, 0, len(memory))
	for _, m := range memory {
		if m.Role == RoleSystem {
			continue
		}
		m.EnsureMessageID()
		out = append(out, m)
	}
	return out
}
