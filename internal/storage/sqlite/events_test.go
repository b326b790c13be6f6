package sqlite_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/agentworld/core/internal/domain"
)

func TestAppendEvent_SeqIsGaplessPerLane(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")
	saveTestChat(t, store, "w1", "c2")

	for i := 0; i < 3; i++ {
		e := &domain.StoredEvent{WorldID: "w1", ChatID: "c1", Type: "message"}
		seq, err := store.AppendEvent(ctx, e)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if want := int64(i + 1); seq != want {
			t.Fatalf("expected seq %d, got %d", want, seq)
		}
		if e.Seq != seq {
			t.Fatal("seq not written back into the event")
		}
	}

	// Lanes are independent: c2 starts at 1.
	seq, err := store.AppendEvent(ctx, &domain.StoredEvent{WorldID: "w1", ChatID: "c2", Type: "message"})
	if err != nil {
		t.Fatalf("append to c2: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected c2 seq 1, got %d", seq)
	}
}

func TestAppendEvent_ConcurrentAppendersNeverCollide(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	const n = 20
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := store.AppendEvent(ctx, &domain.StoredEvent{WorldID: "w1", ChatID: "c1", Type: "message"})
			if err != nil {
				t.Errorf("concurrent append: %v", err)
				return
			}
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := map[int64]bool{}
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate seq %d minted", seq)
		}
		seen[seq] = true
	}
	for want := int64(1); want <= int64(len(seen)); want++ {
		if !seen[want] {
			t.Fatalf("gap at seq %d", want)
		}
	}
}

func TestAppendEvents_BatchGetsConsecutiveSeqs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	if _, err := store.AppendEvent(ctx, &domain.StoredEvent{WorldID: "w1", ChatID: "c1", Type: "first"}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	batch := []*domain.StoredEvent{
		{WorldID: "w1", ChatID: "c1", Type: "a"},
		{WorldID: "w1", ChatID: "c1", Type: "b"},
		{WorldID: "w1", ChatID: "c1", Type: "c"},
	}
	if err := store.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("batch append: %v", err)
	}
	for i, e := range batch {
		if want := int64(i + 2); e.Seq != want {
			t.Fatalf("batch event %d: expected seq %d, got %d", i, want, e.Seq)
		}
	}
}

func TestListEvents_AfterSeqLimitOffset(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")

	for i := 0; i < 10; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		if _, err := store.AppendEvent(ctx, &domain.StoredEvent{
			WorldID: "w1", ChatID: "c1", Type: "tick", Payload: payload,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := store.ListEvents(ctx, "w1", "c1", domain.EventQuery{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("expected 10 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatalf("events out of order at index %d", i)
		}
	}

	after, err := store.ListEvents(ctx, "w1", "c1", domain.EventQuery{AfterSeq: 7})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 3 || after[0].Seq != 8 {
		t.Fatalf("AfterSeq=7 expected seqs 8..10, got %d events starting %d", len(after), after[0].Seq)
	}

	page, err := store.ListEvents(ctx, "w1", "c1", domain.EventQuery{Limit: 4, Offset: 4})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 4 || page[0].Seq != 5 {
		t.Fatalf("Limit=4 Offset=4 expected seqs 5..8, got %d events", len(page))
	}

	var decoded map[string]int
	if err := json.Unmarshal(all[3].Payload, &decoded); err != nil {
		t.Fatalf("payload not round-tripped: %v", err)
	}
	if decoded["n"] != 3 {
		t.Fatalf("payload content lost: %v", decoded)
	}
}

func TestDeleteEvents_RemovesOnlyOneLane(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	saveTestWorld(t, store, "w1")
	saveTestChat(t, store, "w1", "c1")
	saveTestChat(t, store, "w1", "c2")

	for i := 0; i < 5; i++ {
		if _, err := store.AppendEvent(ctx, &domain.StoredEvent{WorldID: "w1", ChatID: "c1", Type: "x"}); err != nil {
			t.Fatalf("append c1: %v", err)
		}
	}
	if _, err := store.AppendEvent(ctx, &domain.StoredEvent{WorldID: "w1", ChatID: "c2", Type: "x"}); err != nil {
		t.Fatalf("append c2: %v", err)
	}

	n, err := store.DeleteEvents(ctx, "w1", "c1")
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 deleted, got %d", n)
	}
	left, _ := store.ListEvents(ctx, "w1", "c2", domain.EventQuery{})
	if len(left) != 1 {
		t.Fatal("sibling lane affected by delete")
	}
}
