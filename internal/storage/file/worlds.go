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

// SaveWorld writes the world's config and tool-config files, renaming the
// world directory when the slug of the name has changed. Tool config lives in
// its own file; the config file never duplicates it.
func (s *Store) SaveWorld(_ context.Context, w *domain.World) error {
	if err := domain.ValidateID("world", w.ID); err != nil {
		return err
	}
	lock := s.worldLock(w.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	existing, err := s.resolveDir(w.ID)
	if err != nil {
		return err
	}
	dir, err := s.targetDir(w, existing)
	if err != nil {
		return err
	}
	if existing != "" && existing != dir {
		if err := os.Rename(existing, dir); err != nil {
			return fmt.Errorf("rename world directory: %w", err)
		}
	}

	onDisk := w.Clone()
	onDisk.ToolConfig = ""
	if err := writeJSON(filepath.Join(dir, configFile), onDisk); err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, toolConfigFile), []byte(w.ToolConfig)); err != nil {
		return fmt.Errorf("save world tool config: %w", err)
	}

	s.mu.Lock()
	s.dirs[w.ID] = dir
	s.mu.Unlock()
	return nil
}

// targetDir picks the directory for a world: the slug of its name, with a
// short id suffix when another world already claims that slug.
func (s *Store) targetDir(w *domain.World, existing string) (string, error) {
	dir := filepath.Join(s.root, worldsDir, slugify(w.Name))
	if dir == existing {
		return dir, nil
	}
	if _, err := os.Stat(dir); err == nil {
		var header struct {
			ID string `json:"id"`
		}
		if ok, _ := readJSON(filepath.Join(dir, configFile), &header); ok && header.ID != w.ID {
			suffix := strings.ReplaceAll(w.ID, string(filepath.Separator), "")
			if len(suffix) > 8 {
				suffix = suffix[:8]
			}
			dir = dir + "-" + suffix
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat world directory: %w", err)
	}
	return dir, nil
}

func (s *Store) LoadWorld(_ context.Context, id string) (*domain.World, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(id)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, nil
	}
	return s.loadWorldDir(dir)
}

func (s *Store) loadWorldDir(dir string) (*domain.World, error) {
	var w domain.World
	ok, err := readJSON(filepath.Join(dir, configFile), &w)
	if err != nil {
		return nil, fmt.Errorf("load world: %w", err)
	}
	if !ok {
		return nil, nil
	}
	toolCfg, err := os.ReadFile(filepath.Join(dir, toolConfigFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load world tool config: %w", err)
	}
	w.ToolConfig = string(toolCfg)
	w.AttachRuntime()
	return &w, nil
}

// DeleteWorld removes the whole world directory: agents, chats, snapshots
// and event logs all live under it.
func (s *Store) DeleteWorld(_ context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	lock := s.worldLock(id)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.resolveDir(id)
	if err != nil {
		return false, err
	}
	if dir == "" {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete world: %w", err)
	}
	s.mu.Lock()
	delete(s.dirs, id)
	s.mu.Unlock()
	return true, nil
}

func (s *Store) ListWorlds(_ context.Context) ([]*domain.World, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, worldsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	var out []*domain.World
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		w, err := s.loadWorldDir(filepath.Join(s.root, worldsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if w != nil {
			out = append(out, w)
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

func (s *Store) WorldExists(_ context.Context, id string) (bool, error) {
	if err := domain.ValidateID("world", id); err != nil {
		return false, err
	}
	dir, err := s.resolveDir(id)
	if err != nil {
		return false, err
	}
	return dir != "", nil
}
