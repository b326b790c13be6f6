package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentworld/core/internal/domain"
)

// CheckIntegrity reports inconsistencies scoped to one world without fixing
// anything. Foreign keys normally prevent orphans, but they can be disabled
// by configuration and legacy rows may predate message-id stamping.
func (s *Store) CheckIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error) {
	if err := domain.ValidateID("world", worldID); err != nil {
		return nil, err
	}
	report := &domain.IntegrityReport{WorldID: worldID}

	counts := []struct {
		dest  *int
		query string
	}{
		{&report.OrphanedAgents, `
			SELECT COUNT(1) FROM agents a
			WHERE a.world_id = ? AND NOT EXISTS (SELECT 1 FROM worlds w WHERE w.id = a.world_id);`},
		{&report.OrphanedChats, `
			SELECT COUNT(1) FROM chats c
			WHERE c.world_id = ? AND NOT EXISTS (SELECT 1 FROM worlds w WHERE w.id = c.world_id);`},
		{&report.OrphanedSnapshots, `
			SELECT COUNT(1) FROM chat_snapshots s
			WHERE s.world_id = ? AND NOT EXISTS (
				SELECT 1 FROM chats c WHERE c.id = s.chat_id AND c.world_id = s.world_id);`},
		{&report.MissingMessageIDs, `
			SELECT COUNT(1) FROM agent_messages m
			WHERE m.world_id = ? AND (m.message_id IS NULL OR m.message_id = '');`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, worldID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("integrity check: %w", err)
		}
	}
	return report, nil
}

// RepairIntegrity fixes what CheckIntegrity found: orphans are deleted and
// missing message ids are minted in place. Best-effort; individual failures
// become report notes rather than errors.
func (s *Store) RepairIntegrity(ctx context.Context, worldID string) (*domain.IntegrityReport, error) {
	report, err := s.CheckIntegrity(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if report.Healthy() {
		report.Repaired = true
		return report, nil
	}

	if report.OrphanedAgents > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM agents WHERE world_id = ?
			AND NOT EXISTS (SELECT 1 FROM worlds w WHERE w.id = agents.world_id);
		`, worldID); err != nil {
			report.Notes = append(report.Notes, fmt.Sprintf("delete orphaned agents: %v", err))
		}
	}
	if report.OrphanedChats > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM chats WHERE world_id = ?
			AND NOT EXISTS (SELECT 1 FROM worlds w WHERE w.id = chats.world_id);
		`, worldID); err != nil {
			report.Notes = append(report.Notes, fmt.Sprintf("delete orphaned chats: %v", err))
		}
	}
	if report.OrphanedSnapshots > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM chat_snapshots WHERE world_id = ?
			AND NOT EXISTS (SELECT 1 FROM chats c
				WHERE c.id = chat_snapshots.chat_id AND c.world_id = chat_snapshots.world_id);
		`, worldID); err != nil {
			report.Notes = append(report.Notes, fmt.Sprintf("delete orphaned snapshots: %v", err))
		}
	}
	if report.MissingMessageIDs > 0 {
		if err := s.backfillMessageIDs(ctx, worldID); err != nil {
			report.Notes = append(report.Notes, fmt.Sprintf("backfill message ids: %v", err))
		}
	}

	report.Repaired = len(report.Notes) == 0
	if !report.Repaired {
		s.logger.Warn("integrity repair incomplete", "world_id", worldID, "notes", report.Notes)
	}
	return report, nil
}

func (s *Store) backfillMessageIDs(ctx context.Context, worldID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM agent_messages WHERE world_id = ? AND (message_id IS NULL OR message_id = '');
	`, worldID)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE agent_messages SET message_id = ? WHERE id = ?;
		`, uuid.NewString(), id); err != nil {
			return err
		}
	}
	return nil
}
