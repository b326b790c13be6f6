package domain

import "time"

// QueueStatus is the lifecycle state of a queue message.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Terminal reports whether a message in this status requires explicit
// intervention (RetryMessage) to move again.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed
}

const (
	// DefaultMaxRetries bounds automatic retries before a message is failed.
	DefaultMaxRetries = 3
	// DefaultTimeoutSeconds is the per-item heartbeat timeout used when the
	// producer supplies none.
	DefaultTimeoutSeconds = 300
)

// QueueMessage is one inbound work item on a (world, chat) lane. At most one
// message per lane is ever in the processing state.
type QueueMessage struct {
	ID             string      `json:"id"`
	WorldID        string      `json:"world_id"`
	ChatID         string      `json:"chat_id"`
	MessageID      string      `json:"message_id"`
	Content        string      `json:"content"`
	Sender         string      `json:"sender,omitempty"`
	Status         QueueStatus `json:"status"`
	Priority       int         `json:"priority"`
	CreatedAt      time.Time   `json:"created_at"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
	HeartbeatAt    *time.Time  `json:"heartbeat_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Error          string      `json:"error,omitempty"`
	RetryCount     int         `json:"retry_count"`
	MaxRetries     int         `json:"max_retries"`
	TimeoutSeconds int         `json:"timeout_seconds"`
}

// Stuck reports whether a processing message's heartbeat is older than its
// own timeout at the given instant.
func (m *QueueMessage) Stuck(now time.Time) bool {
	if m.Status != QueueProcessing {
		return false
	}
	last := m.HeartbeatAt
	if last == nil {
		last = m.ProcessedAt
	}
	if last == nil {
		return false
	}
	timeout := m.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	return now.Sub(*last) > time.Duration(timeout)*time.Second
}
