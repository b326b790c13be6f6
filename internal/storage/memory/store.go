// Package memory implements the storage contract in process memory: nested
// maps keyed by world id then entity id. Every read and write deep-copies
// through the persisted-field JSON form, so callers can never mutate stored
// state through returned references, and runtime-only fields never enter
// the store at all.
//
// The backend is safe for concurrent use within a single process only. It
// backs tests and restricted runtimes with no writable filesystem.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentworld/core/internal/domain"
)

type worldRecord struct {
	world     *domain.World
	agents    map[string]*domain.Agent
	chats     map[string]*domain.Chat
	snapshots map[string]*domain.ChatSnapshot
	events    map[string][]*domain.StoredEvent
}

func newWorldRecord() *worldRecord {
	return &worldRecord{
		agents:    make(map[string]*domain.Agent),
		chats:     make(map[string]*domain.Chat),
		snapshots: make(map[string]*domain.ChatSnapshot),
		events:    make(map[string][]*domain.StoredEvent),
	}
}

// Store is the in-memory backend.
type Store struct {
	mu     sync.RWMutex
	worlds map[string]*worldRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{worlds: make(map[string]*worldRecord)}
}

func (s *Store) Close() error { return nil }

// deepCopy round-trips a value through JSON, which doubles as the persisted
// field allow-list: anything tagged `json:"-"` is dropped.
func deepCopy[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("deep copy: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("deep copy: %w", err)
	}
	return out, nil
}

// --- Worlds ---

func (s *Store) SaveWorld(_ context.Context, w *domain.World) error {
	if err := domain.ValidateID("world", w.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	cp, err := deepCopy(w)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[w.ID]
	if !ok {
		rec = newWorldRecord()
		s.worlds[w.ID] = rec
	}
	rec.world = cp
	return nil
}

func (s *Store) LoadWorld(_ context.Context, id string) (*domain.World, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[id]
	if !ok || rec.world == nil {
		return nil, nil
	}
	cp, err := deepCopy(rec.world)
	if err != nil {
		return nil, err
	}
	cp.AttachRuntime()
	return cp, nil
}

func (s *Store) DeleteWorld(_ context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[id]; !ok {
		return false, nil
	}
	delete(s.worlds, id)
	return true, nil
}

func (s *Store) ListWorlds(_ context.Context) ([]*domain.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.World, 0, len(s.worlds))
	for _, rec := range s.worlds {
		if rec.world == nil {
			continue
		}
		cp, err := deepCopy(rec.world)
		if err != nil {
			return nil, err
		}
		cp.AttachRuntime()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) WorldExists(_ context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[id]
	return ok && rec.world != nil, nil
}

// --- Agents ---

func (s *Store) SaveAgent(_ context.Context, a *domain.Agent) error {
	if err := domain.ValidateID("world", a.WorldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", a.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.LastActive.IsZero() {
		a.LastActive = now
	}
	cp, err := deepCopy(a)
	if err != nil {
		return err
	}
	cp.Memory = domain.PersistableMemory(cp.Memory)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[a.WorldID]
	if !ok || rec.world == nil {
		return fmt.Errorf("save agent: world %q not found", a.WorldID)
	}
	rec.agents[a.ID] = cp
	return nil
}

func (s *Store) LoadAgent(_ context.Context, worldID, id string) (*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}
	a, ok := rec.agents[id]
	if !ok {
		return nil, nil
	}
	return deepCopy(a)
}

func (s *Store) DeleteAgent(_ context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return false, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return false, nil
	}
	if _, ok := rec.agents[id]; !ok {
		return false, nil
	}
	delete(rec.agents, id)
	return true, nil
}

func (s *Store) ListAgents(_ context.Context, worldID string) ([]*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}
	out := make([]*domain.Agent, 0, len(rec.agents))
	for _, a := range rec.agents {
		cp, err := deepCopy(a)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ReplaceAgentMemory(_ context.Context, worldID, agentID string, memory []domain.Message) error {
	if err := domain.ValidateID("world", worldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", agentID); err != nil {
		return err
	}
	persistable := domain.PersistableMemory(memory)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil
	}
	a, ok := rec.agents[agentID]
	if !ok {
		return nil
	}
	a.Memory = persistable
	return nil
}

// --- Chats ---

func (s *Store) SaveChat(_ context.Context, c *domain.Chat) error {
	if err := domain.ValidateLane(c.WorldID, c.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp, err := deepCopy(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[c.WorldID]
	if !ok || rec.world == nil {
		return fmt.Errorf("save chat: world %q not found", c.WorldID)
	}
	rec.chats[c.ID] = cp
	return nil
}

func (s *Store) LoadChat(_ context.Context, worldID, id string) (*domain.Chat, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}
	c, ok := rec.chats[id]
	if !ok {
		return nil, nil
	}
	return deepCopy(c)
}

// DeleteChat removes the chat plus everything scoped to it: memory messages
// tagged with the chat, the snapshot, and the chat's event lane.
func (s *Store) DeleteChat(_ context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return false, nil
	}
	if _, ok := rec.chats[id]; !ok {
		return false, nil
	}
	delete(rec.chats, id)
	delete(rec.snapshots, id)
	delete(rec.events, id)
	for _, a := range rec.agents {
		kept := a.Memory[:0]
		for _, m := range a.Memory {
			if m.ChatID != id {
				kept = append(kept, m)
			}
		}
		a.Memory = kept
	}
	return true, nil
}

func (s *Store) ListChats(_ context.Context, worldID string) ([]*domain.Chat, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}
	out := make([]*domain.Chat, 0, len(rec.chats))
	for _, c := range rec.chats {
		cp, err := deepCopy(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ChatExists(_ context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return false, nil
	}
	_, ok = rec.chats[id]
	return ok, nil
}

// UpdateChatNameIfCurrent is check-then-set inside one critical section.
func (s *Store) UpdateChatNameIfCurrent(_ context.Context, worldID, chatID, expected, next string) (bool, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return false, nil
	}
	c, ok := rec.chats[chatID]
	if !ok || c.Name != expected {
		return false, nil
	}
	c.Name = next
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

// --- Snapshots ---

func (s *Store) SaveSnapshot(_ context.Context, snap *domain.ChatSnapshot) error {
	if err := domain.ValidateLane(snap.WorldID, snap.ChatID); err != nil {
		return err
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	cp, err := deepCopy(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[snap.WorldID]
	if !ok || rec.world == nil {
		return fmt.Errorf("save snapshot: world %q not found", snap.WorldID)
	}
	rec.snapshots[snap.ChatID] = cp
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, worldID, chatID string) (*domain.ChatSnapshot, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}
	snap, ok := rec.snapshots[chatID]
	if !ok {
		return nil, nil
	}
	cp, err := deepCopy(snap)
	if err != nil {
		return nil, err
	}
	if cp.World != nil {
		cp.World.AttachRuntime()
	}
	return cp, nil
}

func (s *Store) RestoreSnapshot(_ context.Context, worldID, chatID string) (bool, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return false, nil
	}
	snap, ok := rec.snapshots[chatID]
	if !ok {
		return false, nil
	}

	if snap.World != nil {
		cp, err := deepCopy(snap.World)
		if err != nil {
			return false, err
		}
		cp.ID = worldID
		cp.CurrentChatID = chatID
		cp.UpdatedAt = time.Now().UTC()
		rec.world = cp
	}
	rec.agents = make(map[string]*domain.Agent, len(snap.Agents))
	for _, a := range snap.Agents {
		cp, err := deepCopy(a)
		if err != nil {
			return false, err
		}
		cp.WorldID = worldID
		rec.agents[cp.ID] = cp
	}
	return true, nil
}

// --- Integrity ---

// CheckIntegrity scans the world's nested maps for inconsistencies. The
// memory backend cannot hold referential orphans, so only missing message
// ids are checked.
func (s *Store) CheckIntegrity(_ context.Context, worldID string) (*domain.IntegrityReport, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	report := &domain.IntegrityReport{WorldID: worldID}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return report, nil
	}
	for _, a := range rec.agents {
		for _, m := range a.Memory {
			if m.MessageID == "" {
				report.MissingMessageIDs++
			}
		}
	}
	return report, nil
}

// RepairIntegrity mints missing message ids in place.
func (s *Store) RepairIntegrity(_ context.Context, worldID string) (*domain.IntegrityReport, error) {
	report, err := s.CheckIntegrity(context.Background(), worldID)
	if err != nil {
		return nil, err
	}
	if report.MissingMessageIDs > 0 {
		s.mu.Lock()
		if rec, ok := s.worlds[worldID]; ok {
			for _, a := range rec.agents {
				for i := range a.Memory {
					a.Memory[i].EnsureMessageID()
				}
			}
		}
		s.mu.Unlock()
	}
	report.Repaired = true
	return report, nil
}
