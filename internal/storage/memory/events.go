package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/agentworld/core/internal/domain"
)

// AppendEvent mints the lane's next seq under the store lock and appends a
// copy of the event to the lane slice. The world must exist, as it must on
// the other backends.
func (s *Store) AppendEvent(_ context.Context, e *domain.StoredEvent) (int64, error) {
	if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.appendEventLocked(e)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendEvents appends a batch with consecutive seqs under one lock hold. A
// copy failure mid-batch leaves already-copied events in place; the deep copy
// of these value-only structs cannot fail in practice.
func (s *Store) AppendEvents(_ context.Context, events []*domain.StoredEvent) error {
	for _, e := range events {
		if err := domain.ValidateLane(e.WorldID, e.ChatID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, err := s.appendEventLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendEventLocked(e *domain.StoredEvent) (int64, error) {
	rec, ok := s.worlds[e.WorldID]
	if !ok || rec.world == nil {
		return 0, fmt.Errorf("append event: world %q not found", e.WorldID)
	}
	lane := rec.events[e.ChatID]
	var seq int64 = 1
	if n := len(lane); n > 0 {
		seq = lane[n-1].Seq + 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Seq = seq

	cp, err := deepCopy(e)
	if err != nil {
		return 0, err
	}
	rec.events[e.ChatID] = append(lane, cp)
	return seq, nil
}

func (s *Store) ListEvents(_ context.Context, worldID, chatID string, q domain.EventQuery) ([]*domain.StoredEvent, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return nil, nil
	}

	var out []*domain.StoredEvent
	skipped := 0
	for _, e := range rec.events[chatID] {
		if e.Seq <= q.AfterSeq {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		cp, err := deepCopy(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeleteEvents(_ context.Context, worldID, chatID string) (int64, error) {
	if err := domain.ValidateLane(worldID, chatID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.worlds[worldID]
	if !ok {
		return 0, nil
	}
	n := int64(len(rec.events[chatID]))
	delete(rec.events, chatID)
	return n, nil
}
