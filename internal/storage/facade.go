package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentworld/core/internal/bus"
	"github.com/agentworld/core/internal/config"
	"github.com/agentworld/core/internal/domain"
	"github.com/agentworld/core/internal/queue"
	"github.com/agentworld/core/internal/storage/file"
	"github.com/agentworld/core/internal/storage/memory"
	"github.com/agentworld/core/internal/storage/sqlite"
)

// Facade selects a backend from configuration and pairs it with a work
// queue: the SQL backend carries its own queue, the file and memory backends
// share the in-process one. Successful mutations publish on the notification
// bus.
//
// An unconfigured facade (empty backend kind) degrades every operation to a
// safe default (nil loads, false deletes, zero counts) instead of failing.
type Facade struct {
	backend Backend
	queue   queue.Queue
	events  *bus.Bus
	logger  *slog.Logger
	key     string
}

var (
	facadeMu sync.Mutex
	facades  = map[string]*Facade{}
)

// New returns the facade for the given configuration, memoized by
// config.Key(): two configs selecting the same backend instance share one
// facade and one bus.
func New(cfg *config.Config, logger *slog.Logger) (*Facade, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Key()

	facadeMu.Lock()
	defer facadeMu.Unlock()
	if f, ok := facades[key]; ok {
		return f, nil
	}

	f := &Facade{events: bus.New(), logger: logger, key: key}
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlite.Open(sqlite.Options{
			Path:               cfg.SQLite.Path,
			DisableWAL:         cfg.SQLite.DisableWAL,
			BusyTimeoutMS:      cfg.SQLite.BusyTimeoutMS,
			CacheKB:            cfg.SQLite.CacheKB,
			DisableForeignKeys: cfg.SQLite.DisableForeignKeys,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		f.backend = store
		f.queue = store
	case config.BackendFile:
		store, err := file.Open(cfg.RootPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
		f.backend = store
		f.queue = memory.NewQueue()
	case config.BackendMemory:
		f.backend = memory.New()
		f.queue = memory.NewQueue()
	default:
		logger.Warn("storage backend unconfigured, operations degrade to no-ops")
	}

	facades[key] = f
	return f, nil
}

// ResetCache closes and forgets every memoized facade. Test hook.
func ResetCache() {
	facadeMu.Lock()
	defer facadeMu.Unlock()
	for key, f := range facades {
		if f.backend != nil {
			_ = f.backend.Close()
		}
		delete(facades, key)
	}
}

// Events is the facade's notification bus.
func (f *Facade) Events() *bus.Bus { return f.events }

// Queue exposes the paired work queue; nil when unconfigured.
func (f *Facade) Queue() queue.Queue {
	if f.backend == nil {
		return nil
	}
	return f.queue
}

// Configured reports whether a backend is attached.
func (f *Facade) Configured() bool { return f.backend != nil }

func (f *Facade) Close() error {
	facadeMu.Lock()
	delete(facades, f.key)
	facadeMu.Unlock()
	if f.backend == nil {
		return nil
	}
	return f.backend.Close()
}

// --- Worlds ---

func (f *Facade) SaveWorld(ctx context.Context, w *domain.World) error {
	if f.backend == nil {
		return nil
	}
	if err := f.backend.SaveWorld(ctx, w); err != nil {
		return err
	}
	f.events.Publish(bus.TopicWorldUpdated, w.ID)
	return nil
}

func (f *Facade) LoadWorld(ctx context.Context, id string) (*domain.World, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.LoadWorld(ctx, id)
}

// DeleteWorld cascades through the backend, then clears the queue lanes of
// every chat the world had. The lane sweep is a no-op on the SQL backend,
// which already removed them in the same transaction.
func (f *Facade) DeleteWorld(ctx context.Context, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	chats, err := f.backend.ListChats(ctx, id)
	if err != nil {
		return false, err
	}
	deleted, err := f.backend.DeleteWorld(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	for _, c := range chats {
		if _, err := f.queue.DeleteLane(ctx, id, c.ID); err != nil {
			f.logger.Warn("delete world: clear queue lane", "world_id", id, "chat_id", c.ID, "error", err)
		}
	}
	f.events.Publish(bus.TopicWorldDeleted, id)
	return true, nil
}

func (f *Facade) ListWorlds(ctx context.Context) ([]*domain.World, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.ListWorlds(ctx)
}

func (f *Facade) WorldExists(ctx context.Context, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	return f.backend.WorldExists(ctx, id)
}

// --- Agents ---

func (f *Facade) SaveAgent(ctx context.Context, a *domain.Agent) error {
	if f.backend == nil {
		return nil
	}
	if err := f.backend.SaveAgent(ctx, a); err != nil {
		return err
	}
	f.events.Publish(bus.TopicWorldUpdated, a.WorldID)
	return nil
}

func (f *Facade) LoadAgent(ctx context.Context, worldID, id string) (*domain.Agent, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.LoadAgent(ctx, worldID, id)
}

func (f *Facade) DeleteAgent(ctx context.Context, worldID, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	deleted, err := f.backend.DeleteAgent(ctx, worldID, id)
	if err == nil && deleted {
		f.events.Publish(bus.TopicWorldUpdated, worldID)
	}
	return deleted, err
}

func (f *Facade) ListAgents(ctx context.Context, worldID string) ([]*domain.Agent, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.ListAgents(ctx, worldID)
}

func (f *Facade) ReplaceAgentMemory(ctx context.Context, worldID, agentID string, memory []domain.Message) error {
	if f.backend == nil {
		return nil
	}
	return f.backend.ReplaceAgentMemory(ctx, worldID, agentID, memory)
}

// SaveAgents batch-saves through the backend's native batch path when it has
// one.
func (f *Facade) SaveAgents(ctx context.Context, agents []*domain.Agent) error {
	if f.backend == nil {
		return nil
	}
	return SaveAgents(ctx, f.backend, agents)
}

func (f *Facade) LoadAgents(ctx context.Context, worldID string, ids []string) ([]*domain.Agent, error) {
	if f.backend == nil {
		return nil, nil
	}
	return LoadAgents(ctx, f.backend, worldID, ids)
}

// --- Chats ---

func (f *Facade) SaveChat(ctx context.Context, c *domain.Chat) error {
	if f.backend == nil {
		return nil
	}
	return f.backend.SaveChat(ctx, c)
}

func (f *Facade) LoadChat(ctx context.Context, worldID, id string) (*domain.Chat, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.LoadChat(ctx, worldID, id)
}

// DeleteChat cascades through the backend and clears the chat's queue lane.
func (f *Facade) DeleteChat(ctx context.Context, worldID, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	deleted, err := f.backend.DeleteChat(ctx, worldID, id)
	if err != nil || !deleted {
		return deleted, err
	}
	if _, err := f.queue.DeleteLane(ctx, worldID, id); err != nil {
		f.logger.Warn("delete chat: clear queue lane", "world_id", worldID, "chat_id", id, "error", err)
	}
	f.events.Publish(bus.TopicChatDeleted, worldID+"/"+id)
	return true, nil
}

func (f *Facade) ListChats(ctx context.Context, worldID string) ([]*domain.Chat, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.ListChats(ctx, worldID)
}

func (f *Facade) ChatExists(ctx context.Context, worldID, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	return f.backend.ChatExists(ctx, worldID, id)
}

func (f *Facade) UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expected, next string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	renamed, err := f.backend.UpdateChatNameIfCurrent(ctx, worldID, chatID, expected, next)
	if err == nil && renamed {
		f.events.Publish(bus.TopicChatRenamed, worldID+"/"+chatID)
	}
	return renamed, err
}

func (f *Facade) SaveSnapshot(ctx context.Context, snap *domain.ChatSnapshot) error {
	if f.backend == nil {
		return nil
	}
	return f.backend.SaveSnapshot(ctx, snap)
}

func (f *Facade) LoadSnapshot(ctx context.Context, worldID, chatID string) (*domain.ChatSnapshot, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.LoadSnapshot(ctx, worldID, chatID)
}

func (f *Facade) RestoreSnapshot(ctx context.Context, worldID, chatID string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	restored, err := f.backend.RestoreSnapshot(ctx, worldID, chatID)
	if err == nil && restored {
		f.events.Publish(bus.TopicWorldUpdated, worldID)
	}
	return restored, err
}

// --- Events ---

func (f *Facade) AppendEvent(ctx context.Context, e *domain.StoredEvent) (int64, error) {
	if f.backend == nil {
		return 0, nil
	}
	seq, err := f.backend.AppendEvent(ctx, e)
	if err == nil {
		f.events.Publish(bus.TopicEventAppended, e)
	}
	return seq, err
}

func (f *Facade) AppendEvents(ctx context.Context, events []*domain.StoredEvent) error {
	if f.backend == nil {
		return nil
	}
	if err := f.backend.AppendEvents(ctx, events); err != nil {
		return err
	}
	for _, e := range events {
		f.events.Publish(bus.TopicEventAppended, e)
	}
	return nil
}

func (f *Facade) ListEvents(ctx context.Context, worldID, chatID string, q domain.EventQuery) ([]*domain.StoredEvent, error) {
	if f.backend == nil {
		return nil, nil
	}
	return f.backend.ListEvents(ctx, worldID, chatID, q)
}

func (f *Facade) DeleteEvents(ctx context.Context, worldID, chatID string) (int64, error) {
	if f.backend == nil {
		return 0, nil
	}
	return f.backend.DeleteEvents(ctx, worldID, chatID)
}

// --- Integrity ---

func (f *Facade) CheckIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error) {
	if f.backend == nil {
		return &domain.IntegrityReport{WorldID: worldID, Repaired: true}, nil
	}
	return f.backend.CheckIntegrity(ctx, worldID)
}

func (f *Facade) RepairIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error) {
	if f.backend == nil {
		return &domain.IntegrityReport{WorldID: worldID, Repaired: true}, nil
	}
	return f.backend.RepairIntegrity(ctx, worldID)
}

// --- Queue ---

func (f *Facade) Enqueue(ctx context.Context, m *domain.QueueMessage) (string, error) {
	if f.backend == nil {
		return "", nil
	}
	id, err := f.queue.Enqueue(ctx, m)
	if err == nil {
		f.events.Publish(bus.TopicQueueStateChanged, id)
	}
	return id, err
}

func (f *Facade) Dequeue(ctx context.Context, worldID, chatID string) (*domain.QueueMessage, error) {
	if f.backend == nil {
		return nil, nil
	}
	m, err := f.queue.Dequeue(ctx, worldID, chatID)
	if err == nil && m != nil {
		f.events.Publish(bus.TopicQueueStateChanged, m.ID)
	}
	return m, err
}

func (f *Facade) UpdateHeartbeat(ctx context.Context, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	return f.queue.UpdateHeartbeat(ctx, id)
}

func (f *Facade) MarkCompleted(ctx context.Context, id string) error {
	if f.backend == nil {
		return nil
	}
	err := f.queue.MarkCompleted(ctx, id)
	if err == nil {
		f.events.Publish(bus.TopicQueueStateChanged, id)
	}
	return err
}

func (f *Facade) MarkFailed(ctx context.Context, id, errMsg string) (domain.QueueStatus, error) {
	if f.backend == nil {
		return "", nil
	}
	status, err := f.queue.MarkFailed(ctx, id, errMsg)
	if err == nil {
		f.events.Publish(bus.TopicQueueStateChanged, id)
	}
	return status, err
}

func (f *Facade) RetryMessage(ctx context.Context, id string) (bool, error) {
	if f.backend == nil {
		return false, nil
	}
	retried, err := f.queue.RetryMessage(ctx, id)
	if err == nil && retried {
		f.events.Publish(bus.TopicQueueStateChanged, id)
	}
	return retried, err
}

func (f *Facade) DetectStuckMessages(ctx context.Context) (queue.SweepResult, error) {
	if f.backend == nil {
		return queue.SweepResult{}, nil
	}
	return f.queue.DetectStuckMessages(ctx)
}

func (f *Facade) QueueDepth(ctx context.Context, worldID, chatID string) (int, error) {
	if f.backend == nil {
		return 0, nil
	}
	return f.queue.Depth(ctx, worldID, chatID)
}

func (f *Facade) QueueStats(ctx context.Context, worldID string) (*queue.Stats, error) {
	if f.backend == nil {
		return &queue.Stats{WorldID: worldID}, nil
	}
	return f.queue.Stats(ctx, worldID)
}

func (f *Facade) QueueCleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if f.backend == nil {
		return 0, nil
	}
	return f.queue.Cleanup(ctx, olderThan)
}
