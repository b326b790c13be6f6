package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agentworld/core/internal/domain"
)

func TestPersistableMemory_DropsSystemAndMintsIDs(t *testing.T) {
	in := []domain.Message{
		{Role: domain.RoleSystem, Content: "prompt"},
		{Role: domain.RoleUser, Content: "question"},
		{Role: domain.RoleAssistant, Content: "answer", MessageID: "existing-id"},
	}

	out := domain.PersistableMemory(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 persistable messages, got %d", len(out))
	}
	if out[0].MessageID == "" {
		t.Fatal("missing id not minted")
	}
	if out[1].MessageID != "existing-id" {
		t.Fatal("existing id replaced")
	}
	// The input slice is untouched.
	if in[1].MessageID != "" {
		t.Fatal("input slice mutated")
	}
}

func TestEnsureMessageID(t *testing.T) {
	m := domain.Message{Role: domain.RoleUser, Content: "x"}
	if changed := m.EnsureMessageID(); !changed {
		t.Fatal("expected change for empty id")
	}
	if m.MessageID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("fields not backfilled: %+v", m)
	}
	id := m.MessageID
	if changed := m.EnsureMessageID(); changed {
		t.Fatal("expected no change on second call")
	}
	if m.MessageID != id {
		t.Fatal("id changed on second call")
	}
}

func TestQueueMessage_Stuck(t *testing.T) {
	now := time.Now().UTC()
	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-10 * time.Minute)

	cases := []struct {
		name string
		m    domain.QueueMessage
		want bool
	}{
		{"pending never stuck", domain.QueueMessage{Status: domain.QueuePending, HeartbeatAt: &stale, TimeoutSeconds: 1}, false},
		{"fresh heartbeat", domain.QueueMessage{Status: domain.QueueProcessing, HeartbeatAt: &fresh, TimeoutSeconds: 300}, false},
		{"stale heartbeat", domain.QueueMessage{Status: domain.QueueProcessing, HeartbeatAt: &stale, TimeoutSeconds: 300}, true},
		{"falls back to processed_at", domain.QueueMessage{Status: domain.QueueProcessing, ProcessedAt: &stale, TimeoutSeconds: 300}, true},
		{"no stamps at all", domain.QueueMessage{Status: domain.QueueProcessing, TimeoutSeconds: 1}, false},
		{"zero timeout uses default", domain.QueueMessage{Status: domain.QueueProcessing, HeartbeatAt: &fresh}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Stuck(now); got != tc.want {
				t.Fatalf("Stuck() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQueueStatus_Terminal(t *testing.T) {
	if domain.QueuePending.Terminal() || domain.QueueProcessing.Terminal() {
		t.Fatal("active statuses reported terminal")
	}
	if !domain.QueueCompleted.Terminal() || !domain.QueueFailed.Terminal() {
		t.Fatal("terminal statuses not reported terminal")
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"w1", "world-42", "a_b.c", "UPPER"}
	for _, id := range valid {
		if err := domain.ValidateID("world", id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", "  ", "a/b", `a\b`, ".", "..", "up..down", strings.Repeat("x", 257)}
	for _, id := range invalid {
		err := domain.ValidateID("world", id)
		if err == nil {
			t.Errorf("ValidateID(%q) = nil, want error", id)
			continue
		}
		if !errors.Is(err, domain.ErrInvalidID) {
			t.Errorf("ValidateID(%q) error does not wrap ErrInvalidID: %v", id, err)
		}
	}
}

func TestWorld_RuntimeStateExcludedFromJSON(t *testing.T) {
	w := domain.NewWorld("w1", "W")
	w.IndexAgent(&domain.Agent{ID: "a1", Name: "scout"})

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"Events", "events", "agentsByName"} {
		if _, ok := decoded[key]; ok {
			t.Fatalf("runtime field %q leaked into JSON", key)
		}
	}
}

func TestWorld_CloneDoesNotShareBus(t *testing.T) {
	w := domain.NewWorld("w1", "W")
	cp := w.Clone()
	if cp.Events == nil {
		t.Fatal("clone has no bus")
	}
	if cp.Events == w.Events {
		t.Fatal("clone shares the original's bus")
	}
	cp.Name = "changed"
	if w.Name == "changed" {
		t.Fatal("clone shares backing fields")
	}
}
