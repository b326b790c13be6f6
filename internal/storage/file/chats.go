package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentworld/core/internal/domain"
)

func chatPath(worldDir, chatID string) string {
	return filepath.Join(worldDir, chatsDir, chatID+".json")
}

func snapshotPath(worldDir, chatID string) string {
	return filepath.Join(worldDir, chatsDir, chatID+snapshotSuffix)
}

func (s *Store) SaveChat(_ context.Context, c *domain.Chat) error {
	if err := domain.ValidateLane(c.WorldID, c.ID); err != nil {
		return err
	}
	lock := s.worldLock(c.WorldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(c.WorldID)
	if err != nil {
		return err
	}
	if worldDir == "" {
		return fmt.Errorf("save chat: world %q not found", c.WorldID)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if err := writeJSON(chatPath(worldDir, c.ID), c); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *Store) LoadChat(_ context.Context, worldID, id string) (*domain.Chat, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return nil, err
	}
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return nil, nil
	}
	var c domain.Chat
	ok, err := readJSON(chatPath(worldDir, id), &c)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// DeleteChat removes the chat file plus everything scoped to the chat: its
// snapshot, its event log, and memory messages tagged with the chat id.
func (s *Store) DeleteChat(_ context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateLane(worldID, id); err != nil {
		return false, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return false, err
	}
	if worldDir == "" {
		return false, nil
	}
	path := chatPath(worldDir, id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete chat: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	if err := os.Remove(snapshotPath(worldDir, id)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("delete chat snapshot: %w", err)
	}
	if err := os.Remove(eventsPath(worldDir, id)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("delete chat events: %w", err)
	}
	if err := s.scrubChatMemoryLocked(worldDir, id); err != nil {
		return false, err
	}
	return true, nil
}

// scrubChatMemoryLocked drops messages tagged with the deleted chat from
// every agent's memory file. Caller holds the world lock.
func (s *Store) scrubChatMemoryLocked(worldDir, chatID string) error {
	entries, err := os.ReadDir(filepath.Join(worldDir, agentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scrub chat memory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(worldDir, agentsDir, entry.Name(), memoryFile)
		var memory []domain.Message
		ok, err := readJSON(path, &memory)
		if err != nil || !ok {
			continue
		}
		kept := memory[:0]
		for _, m := range memory {
			if m.ChatID != chatID {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(memory) {
			continue
		}
		if err := writeJSON(path, kept); err != nil {
			return fmt.Errorf("scrub chat memory: %w", err)
		}
	}
	return nil
}

func (s *Store) ListChats(_ context.Context, worldID string) ([]*domain.Chat, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(worldDir, chatsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list chats: %w", err)
	}
	var out []*domain.Chat
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		var c domain.Chat
		ok, err := readJSON(filepath.Join(worldDir, chatsDir, name), &c)
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		if ok {
			out = append(out, &c)
		}
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
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return false, err
	}
	if worldDir == "" {
		return false, nil
	}
	if _, err := os.Stat(chatPath(worldDir, id)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("chat exists: %w", err)
	}
	return true, nil
}

// UpdateChatNameIfCurrent is read-compare-write under the world lock.
func (s *Store) UpdateChatNameIfCurrent(_ context.Context, worldID, chatID, expected, next string) (bool, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return false, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return false, err
	}
	if worldDir == "" {
		return false, nil
	}
	var c domain.Chat
	ok, err := readJSON(chatPath(worldDir, chatID), &c)
	if err != nil {
		return false, fmt.Errorf("rename chat: %w", err)
	}
	if !ok || c.Name != expected {
		return false, nil
	}
	c.Name = next
	c.UpdatedAt = time.Now().UTC()
	if err := writeJSON(chatPath(worldDir, chatID), &c); err != nil {
		return false, fmt.Errorf("rename chat: %w", err)
	}
	return true, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *domain.ChatSnapshot) error {
	if err := domain.ValidateLane(snap.WorldID, snap.ChatID); err != nil {
		return err
	}
	lock := s.worldLock(snap.WorldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(snap.WorldID)
	if err != nil {
		return err
	}
	if worldDir == "" {
		return fmt.Errorf("save snapshot: world %q not found", snap.WorldID)
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	if err := writeJSON(snapshotPath(worldDir, snap.ChatID), snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, worldID, chatID string) (*domain.ChatSnapshot, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return nil, nil
	}
	var snap domain.ChatSnapshot
	ok, err := readJSON(snapshotPath(worldDir, chatID), &snap)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if snap.World != nil {
		snap.World.AttachRuntime()
	}
	return &snap, nil
}

// RestoreSnapshot rewrites the world config and replaces every agent with the
// snapshot's capture. Returns false when the chat has no snapshot.
func (s *Store) RestoreSnapshot(_ context.Context, worldID, chatID string) (bool, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return false, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return false, err
	}
	if worldDir == "" {
		return false, nil
	}
	var snap domain.ChatSnapshot
	ok, err := readJSON(snapshotPath(worldDir, chatID), &snap)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	if snap.World != nil {
		w := snap.World.Clone()
		w.ID = worldID
		w.CurrentChatID = chatID
		w.UpdatedAt = time.Now().UTC()
		onDisk := w.Clone()
		onDisk.ToolConfig = ""
		if err := writeJSON(filepath.Join(worldDir, configFile), onDisk); err != nil {
			return false, fmt.Errorf("restore snapshot: %w", err)
		}
		if err := writeAtomic(filepath.Join(worldDir, toolConfigFile), []byte(w.ToolConfig)); err != nil {
			return false, fmt.Errorf("restore snapshot tool config: %w", err)
		}
	}

	if err := os.RemoveAll(filepath.Join(worldDir, agentsDir)); err != nil {
		return false, fmt.Errorf("restore snapshot: clear agents: %w", err)
	}
	for _, a := range snap.Agents {
		cp := *a
		cp.WorldID = worldID
		if err := s.saveAgentLocked(worldDir, &cp); err != nil {
			return false, err
		}
	}
	return true, nil
}
