package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentworld/core/internal/domain"
)

func eventsPath(worldDir, chatID string) string {
	return filepath.Join(worldDir, eventsDir, chatID+".json")
}

// AppendEvent reads the lane file, mints max(seq)+1, appends and rewrites the
// file atomically, all under the world lock.
func (s *Store) AppendEvent(_ context.Context, e *domain.StoredEvent) (int64, error) {
	if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
		return 0, err
	}
	lock := s.worldLock(e.WorldID)
	lock.Lock()
	defer lock.Unlock()
	return s.appendEventsLocked(e.WorldID, e.ChatID, []*domain.StoredEvent{e})
}

// AppendEvents appends a batch with consecutive seqs in one file rewrite.
// Events must all target the same lane; mixed lanes are rejected to keep the
// write atomic.
func (s *Store) AppendEvents(_ context.Context, events []*domain.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	worldID, chatID := events[0].WorldID, events[0].ChatID
	for _, e := range events {
		if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
			return err
		}
		if e.WorldID != worldID || e.ChatID != chatID {
			return fmt.Errorf("append events: batch spans multiple lanes")
		}
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.appendEventsLocked(worldID, chatID, events)
	return err
}

func (s *Store) appendEventsLocked(worldID, chatID string, events []*domain.StoredEvent) (int64, error) {
	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return 0, err
	}
	if worldDir == "" {
		return 0, fmt.Errorf("append event: world %q not found", worldID)
	}
	path := eventsPath(worldDir, chatID)

	var lane []*domain.StoredEvent
	if _, err := readJSON(path, &lane); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	var seq int64
	if n := len(lane); n > 0 {
		seq = lane[n-1].Seq
	}
	for _, e := range events {
		seq++
		e.Seq = seq
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		lane = append(lane, e)
	}
	if err := writeJSON(path, lane); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

func (s *Store) ListEvents(_ context.Context, worldID, chatID string, q domain.EventQuery) ([]*domain.StoredEvent, error) {
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
	var lane []*domain.StoredEvent
	if _, err := readJSON(eventsPath(worldDir, chatID), &lane); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var out []*domain.StoredEvent
	skipped := 0
	for _, e := range lane {
		if e.Seq <= q.AfterSeq {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteEvents removes the lane's file entirely, returning the event count.
func (s *Store) DeleteEvents(_ context.Context, worldID, chatID string) (int64, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	worldDir, err := s.resolveDir(worldID)
	if err != nil {
		return 0, err
	}
	if worldDir == "" {
		return 0, nil
	}
	path := eventsPath(worldDir, chatID)
	var lane []*domain.StoredEvent
	ok, err := readJSON(path, &lane)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return int64(len(lane)), nil
}
