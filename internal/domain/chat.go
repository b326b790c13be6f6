package domain

import "time"

// Chat is one conversation within a world.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"world_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	MessageCount int       `json:"message_count"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatSnapshot is a point-in-time capture of a world's full state tied to
// one chat: the world's persisted config plus every agent including memory.
type ChatSnapshot struct {
	WorldID    string    `json:"world_id"`
	ChatID     string    `json:"chat_id"`
	World      *World    `json:"world"`
	Agents     []*Agent  `json:"agents,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}
