package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworld/core/internal/domain"
)

// CheckIntegrity scans one world's directory for snapshot files whose chat no
// longer exists and memory entries missing a message id. The directory layout
// cannot hold agent/chat orphans: both live under the world directory.
func (s *Store) CheckIntegrity(_ context.Context, worldID string) (*domain.IntegrityReport, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	report := &domain.IntegrityReport{WorldID: worldID}
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		return report, nil
	}

	report.OrphanedSnapshots = len(s.orphanedSnapshots(worldDir))
	missing, err := s.countMissingMessageIDs(worldDir)
	if err != nil {
		return nil, err
	}
	report.MissingMessageIDs = missing
	return report, nil
}

// RepairIntegrity removes orphaned snapshots and mints missing message ids.
// Best-effort; individual failures become report notes.
func (s *Store) RepairIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error) {
	report, err := s.CheckIntegrity(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if report.Healthy() {
		report.Repaired = true
		return report, nil
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return nil, err
	}
	if worldDir == "" {
		report.Repaired = true
		return report, nil
	}

	for _, path := range s.orphanedSnapshots(worldDir) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			report.Notes = append(report.Notes, fmt.Sprintf("remove orphaned snapshot %s: %v", filepath.Base(path), err))
		}
	}
	if report.MissingMessageIDs > 0 {
		if err := s.backfillMessageIDs(worldDir); err != nil {
			report.Notes = append(report.Notes, fmt.Sprintf("backfill message ids: %v", err))
		}
	}
	report.Repaired = len(report.Notes) == 0
	if !report.Repaired {
		s.logger.Warn("integrity repair incomplete", "world_id", worldID, "notes", report.Notes)
	}
	return report, nil
}

func (s *Store) orphanedSnapshots(worldDir string) []string {
	entries, err := os.ReadDir(filepath.Join(worldDir, chatsDir))
	if err != nil {
		return nil
	}
	var orphans []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		chatID := strings.TrimSuffix(name, snapshotSuffix)
		if _, err := os.Stat(chatPath(worldDir, chatID)); os.IsNotExist(err) {
			orphans = append(orphans, filepath.Join(worldDir, chatsDir, name))
		}
	}
	return orphans
}

func (s *Store) countMissingMessageIDs(worldDir string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(worldDir, agentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("integrity check: %w", err)
	}
	missing := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var memory []domain.Message
		ok, err := readJSON(filepath.Join(worldDir, agentsDir, entry.Name(), memoryFile), &memory)
		if err != nil || !ok {
			continue
		}
		for _, m := range memory {
			if m.MessageID == "" {
				missing++
			}
		}
	}
	return missing, nil
}

func (s *Store) backfillMessageIDs(worldDir string) error {
	entries, err := os.ReadDir(filepath.Join(worldDir, agentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
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
		changed := false
		for i := range memory {
			if memory[i].EnsureMessageID() {
				changed = true
			}
		}
		if changed {
			if err := writeJSON(path, memory); err != nil {
				return err
			}
		}
	}
	return nil
}
