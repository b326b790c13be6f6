// Package storage defines the backend-agnostic persistence contract for
// worlds, agents, chats and events, and the facade that selects and wraps a
// configured backend.
//
// Not-found is a valid outcome everywhere: loads return nil, deletes return
// false. Errors are reserved for validation failures and genuine I/O or
// transaction failures.
package storage

import (
	"context"

	"github.com/agentworld/core/internal/domain"
)

// WorldStore is the world CRUD surface.
type WorldStore interface {
	SaveWorld(ctx context.Context, w *domain.World) error
	// LoadWorld returns nil when the world does not exist. The returned
	// world has fresh runtime state attached.
	LoadWorld(ctx context.Context, id string) (*domain.World, error)
	// DeleteWorld cascades to the world's agents, chats, memory, events and
	// snapshots. Returns false when the world did not exist.
	DeleteWorld(ctx context.Context, id string) (bool, error)
	ListWorlds(ctx context.Context) ([]*domain.World, error)
	WorldExists(ctx context.Context, id string) (bool, error)
}

// AgentStore is the agent CRUD surface. Agent memory is replaced wholesale
// on every save; system-role messages never reach storage.
type AgentStore interface {
	SaveAgent(ctx context.Context, a *domain.Agent) error
	LoadAgent(ctx context.Context, worldID, id string) (*domain.Agent, error)
	DeleteAgent(ctx context.Context, worldID, id string) (bool, error)
	ListAgents(ctx context.Context, worldID string) ([]*domain.Agent, error)
	// ReplaceAgentMemory swaps the agent's entire memory for the given
	// slice. A shrinking slice must not leave stale entries behind.
	ReplaceAgentMemory(ctx context.Context, worldID, agentID string, memory []domain.Message) error
}

// ChatStore is the chat CRUD + snapshot surface.
type ChatStore interface {
	SaveChat(ctx context.Context, c *domain.Chat) error
	LoadChat(ctx context.Context, worldID, id string) (*domain.Chat, error)
	// DeleteChat cascades to agent-memory messages tagged with the chat,
	// the chat's snapshot, and the chat's event-log entries.
	DeleteChat(ctx context.Context, worldID, id string) (bool, error)
	ListChats(ctx context.Context, worldID string) ([]*domain.Chat, error)
	ChatExists(ctx context.Context, worldID, id string) (bool, error)

	// UpdateChatNameIfCurrent renames the chat only if its stored name still
	// equals expected: one atomic compare-and-set at the storage layer.
	// A mismatch returns false with the name unchanged, never an error.
	UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expected, next string) (bool, error)

	SaveSnapshot(ctx context.Context, snap *domain.ChatSnapshot) error
	LoadSnapshot(ctx context.Context, worldID, chatID string) (*domain.ChatSnapshot, error)
	// RestoreSnapshot replaces the world's config and agents (including
	// memory) with the snapshot's capture. Returns false when no snapshot
	// exists for the chat.
	RestoreSnapshot(ctx context.Context, worldID, chatID string) (bool, error)
}

// EventStore is the append-only per-(world, chat) event log.
type EventStore interface {
	// AppendEvent mints the next seq for the event's lane and stores the
	// event. The minted seq is returned and written back into the event.
	AppendEvent(ctx context.Context, e *domain.StoredEvent) (int64, error)
	// AppendEvents appends a batch in order with consecutive seq values.
	AppendEvents(ctx context.Context, events []*domain.StoredEvent) error
	ListEvents(ctx context.Context, worldID, chatID string, q domain.EventQuery) ([]*domain.StoredEvent, error)
	// DeleteEvents removes every event for one lane and nothing else,
	// returning the removed count.
	DeleteEvents(ctx context.Context, worldID, chatID string) (int64, error)
}

// IntegrityStore exposes the advisory check/repair pair. Repair is
// best-effort: it reports what it fixed and never raises for individual
// records it could not.
type IntegrityStore interface {
	CheckIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error)
	RepairIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error)
}

// Backend is the full storage contract implemented by the sqlite, file and
// memory backends.
type Backend interface {
	WorldStore
	AgentStore
	ChatStore
	EventStore
	IntegrityStore
	Close() error
}
