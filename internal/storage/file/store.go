// Package file implements the storage contract over flat JSON files: one
// directory per world (named by the slugified world name) holding the world
// config, a tool-config file, per-agent config + memory files, per-chat
// files with optional snapshots, and per-chat event logs.
//
// Every write goes through a temp file in the target directory followed by a
// rename, so readers never observe a half-written file. Read-modify-write
// sequences (event append, chat rename) hold a per-world mutex; the backend
// has no cross-process coordination.
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	worldsDir      = "worlds"
	configFile     = "config.json"
	toolConfigFile = "toolconfig.json"
	agentsDir      = "agents"
	chatsDir       = "chats"
	eventsDir      = "events"
	memoryFile     = "memory.json"
	snapshotSuffix = ".snapshot.json"
)

// Store is the flat-file backend rooted at one directory.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	dirs  map[string]string // world id -> absolute world dir
	locks map[string]*sync.Mutex
}

// Open creates the root directory if needed and returns a store.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("file: empty root path")
	}
	if err := os.MkdirAll(filepath.Join(root, worldsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   root,
		logger: logger,
		dirs:   make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Close() error { return nil }

// worldLock returns the mutex guarding one world's read-modify-write
// sequences, creating it on first use.
func (s *Store) worldLock(worldID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[worldID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[worldID] = l
	}
	return l
}

// slugify maps a display name to a filesystem-safe directory name: lowercase,
// runs of anything outside [a-z0-9] collapsed to one hyphen.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "world"
	}
	return out
}

// resolveDir finds the directory for a world id, scanning the worlds root on
// a cache miss. Returns "" when the world does not exist.
func (s *Store) resolveDir(worldID string) (string, error) {
	s.mu.Lock()
	if dir, ok := s.dirs[worldID]; ok {
		s.mu.Unlock()
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		s.mu.Lock()
		delete(s.dirs, worldID)
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, worldsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("scan worlds: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, worldsDir, entry.Name())
		var header struct {
			ID string `json:"id"`
		}
		ok, err := readJSON(filepath.Join(dir, configFile), &header)
		if err != nil || !ok {
			continue
		}
		if header.ID == worldID {
			s.mu.Lock()
			s.dirs[worldID] = dir
			s.mu.Unlock()
			return dir, nil
		}
	}
	return "", nil
}

// writeJSON marshals v and writes it atomically: temp file in the target
// directory, then rename over the destination.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// readJSON unmarshals path into v. A missing file returns (false, nil):
// not-found is a valid outcome, distinct from I/O or decode failure.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
