package domain

// IntegrityReport summarizes a consistency check or repair pass. Checks are
// advisory; they never block normal reads or writes.
type IntegrityReport struct {
	WorldID           string   `json:"world_id"`
	OrphanedAgents    int      `json:"orphaned_agents"`
	OrphanedChats     int      `json:"orphaned_chats"`
	OrphanedSnapshots int      `json:"orphaned_snapshots"`
	MissingMessageIDs int      `json:"missing_message_ids"`
	Repaired          bool     `json:"repaired"`
	Notes             []string `json:"notes,omitempty"`
}

// Healthy reports whether the check found nothing to fix.
func (r *IntegrityReport) Healthy() bool {
	return r.OrphanedAgents == 0 && r.OrphanedChats == 0 &&
		r.OrphanedSnapshots == 0 && r.MissingMessageIDs == 0
}
