// Package domain holds the persisted entity types shared by every storage
// backend: worlds, agents, agent memory, chats, events and queue messages.
//
// Entities separate persisted fields from runtime-only state. Anything tagged
// `json:"-"` (or unexported) never reaches a backend; loads must call
// AttachRuntime to rebuild it.
package domain

import (
	"time"

	"github.com/agentworld/core/internal/bus"
)

// World is the top-level container. It owns agents and chats; deleting a
// world cascades to both.
type World struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	TurnLimit     int       `json:"turn_limit"`
	MainAgent     string    `json:"main_agent,omitempty"`
	ChatProvider  string    `json:"chat_provider,omitempty"`
	ChatModel     string    `json:"chat_model,omitempty"`
	CurrentChatID string    `json:"current_chat_id,omitempty"`
	Variables     string    `json:"variables,omitempty"`
	ToolConfig    string    `json:"tool_config,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Events is the in-process notification bus. It is attached at load
	// time and must never be written to storage.
	Events *bus.Bus `json:"-"`

	agentsByName map[string]*Agent
}

const defaultTurnLimit = 5

// NewWorld returns a world with defaults applied and runtime state attached.
func NewWorld(id, name string) *World {
	now := time.Now().UTC()
	w := &World{
		ID:        id,
		Name:      name,
		TurnLimit: defaultTurnLimit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.AttachRuntime()
	return w
}

// AttachRuntime rebuilds the transient fields of a freshly loaded world:
// a new notification bus and an empty agent lookup index. Backends call this
// on every load path so no runtime state ever round-trips through storage.
func (w *World) AttachRuntime() {
	w.Events = bus.New()
	w.agentsByName = make(map[string]*Agent)
}

// IndexAgent registers an agent in the world's derived name index.
func (w *World) IndexAgent(a *Agent) {
	if w.agentsByName == nil {
		w.agentsByName = make(map[string]*Agent)
	}
	if a != nil && a.Name != "" {
		w.agentsByName[a.Name] = a
	}
}

// AgentByName looks up an agent by name in the derived index.
func (w *World) AgentByName(name string) *Agent {
	return w.agentsByName[name]
}

// Clone returns a copy of the world's persisted fields with fresh runtime
// state. The notification bus is deliberately not shared.
func (w *World) Clone() *World {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Events = nil
	cp.agentsByName = nil
	cp.AttachRuntime()
	return &cp
}
