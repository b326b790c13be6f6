package storage

import (
	"context"

	"github.com/agentworld/core/internal/domain"
)

// BatchAgentStore is implemented by backends with a native batch path.
// Backends without one are served by the fallback loops below, so every
// backend is usable through the same call site.
type BatchAgentStore interface {
	SaveAgentsBatch(ctx context.Context, agents []*domain.Agent) error
	LoadAgentsBatch(ctx context.Context, worldID string, ids []string) ([]*domain.Agent, error)
}

// SaveAgents uses the backend's native batch save when available and loops
// single saves otherwise.
func SaveAgents(ctx context.Context, s AgentStore, agents []*domain.Agent) error {
	if batch, ok := s.(BatchAgentStore); ok {
		return batch.SaveAgentsBatch(ctx, agents)
	}
	for _, a := range agents {
		if err := s.SaveAgent(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// LoadAgents loads the named agents, skipping those that do not exist.
func LoadAgents(ctx context.Context, s AgentStore, worldID string, ids []string) ([]*domain.Agent, error) {
	if batch, ok := s.(BatchAgentStore); ok {
		return batch.LoadAgentsBatch(ctx, worldID, ids)
	}
	out := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.LoadAgent(ctx, worldID, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}
