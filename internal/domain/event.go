package domain

import (
	"encoding/json"
	"time"
)

// StoredEvent is one record in the append-only per-(world, chat) event log.
// Seq is minted by the storage layer at append time: strictly increasing per
// lane, no gaps, never supplied by the caller.
type StoredEvent struct {
	WorldID   string          `json:"world_id"`
	ChatID    string          `json:"chat_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventQuery bounds a replay read. AfterSeq=0 starts from the beginning;
// Limit<=0 means unbounded. Results are always ordered by (seq, created_at)
// ascending.
type EventQuery struct {
	AfterSeq int64
	Limit    int
	Offset   int
}
