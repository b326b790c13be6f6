package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentworld/core/internal/domain"
)

// Agent layout: <world>/agents/<agentID>/config.json holds the agent fields,
// memory.json holds the ordered memory slice. The split lets memory be
// replaced without rewriting the config.

func (s *Store) agentDir(worldDir, agentID string) string {
	return filepath.Join(worldDir, agentsDir, agentID)
}

func (s *Store) SaveAgent(_ context.Context, a *domain.Agent) error {
	if err := domain.ValidateID("world", a.WorldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", a.ID); err != nil {
		return err
	}
	lock := s.worldLock(a.WorldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(a.WorldID)
	if err != nil {
		return err
	}
	if worldDir == "" {
		return fmt.Errorf("save agent: world %q not found", a.WorldID)
	}
	return s.saveAgentLocked(worldDir, a)
}

func (s *Store) saveAgentLocked(worldDir string, a *domain.Agent) error {
	dir := s.agentDir(worldDir, a.ID)
	memory := domain.PersistableMemory(a.Memory)

	cfg := *a
	cfg.Memory = nil
	if err := writeJSON(filepath.Join(dir, configFile), &cfg); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, memoryFile), memory); err != nil {
		return fmt.Errorf("save agent memory: %w", err)
	}
	return nil
}

// LoadAgent takes the world lock because loading may rewrite the memory
// file: legacy entries missing a message id are migrated in place.
func (s *Store) LoadAgent(_ context.Context, worldID, id string) (*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
		return nil, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return nil, nil
	}
	return s.loadAgentDir(s.agentDir(worldDir, id))
}

// loadAgentDir reads the agent's config and memory files. Memory entries
// without a message id or timestamp get them minted here, and the memory
// file is rewritten so the migration sticks. Callers hold the world lock.
func (s *Store) loadAgentDir(dir string) (*domain.Agent, error) {
	var a domain.Agent
	ok, err := readJSON(filepath.Join(dir, configFile), &a)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if !ok {
		return nil, nil
	}
	memoryPath := filepath.Join(dir, memoryFile)
	var memory []domain.Message
	if _, err := readJSON(memoryPath, &memory); err != nil {
		return nil, fmt.Errorf("load agent memory: %w", err)
	}
	migrated := false
	for i := range memory {
		if memory[i].EnsureMessageID() {
			migrated = true
		}
	}
	if migrated {
		if err := writeJSON(memoryPath, memory); err != nil {
			return nil, fmt.Errorf("migrate agent memory: %w", err)
		}
	}
	a.Memory = memory
	return &a, nil
}

func (s *Store) DeleteAgent(_ context.Context, worldID, id string) (bool, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return false, err
	}
	if err := domain.ValidateID("agent", id); err != nil {
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
	dir := s.agentDir(worldDir, id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete agent: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	return true, nil
}

func (s *Store) ListAgents(_ context.Context, worldID string) ([]*domain.Agent, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(worldDir, agentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var out []*domain.Agent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		a, err := s.loadAgentDir(filepath.Join(worldDir, agentsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
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

// ReplaceAgentMemory rewrites only the agent's memory file; a missing agent
// is a no-op.
func (s *Store) ReplaceAgentMemory(_ context.Context, worldID, agentID string, memory []domain.Message) error {
	if err := domain.ValidateID("world", worldID); err != nil {
		return err
	}
	if err := domain.ValidateID("agent", agentID); err != nil {
		return err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return err
	}
	if worldDir == "" {
		return nil
	}
	dir := s.agentDir(worldDir, agentID)
	if _, err := os.Stat(filepath.Join(dir, configFile)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replace agent memory: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, memoryFile), domain.PersistableMemory(memory)); err != nil {
		return fmt.Errorf("replace agent memory: %w", err)
	}
	return nil
}
