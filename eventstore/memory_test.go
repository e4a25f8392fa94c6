package eventstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	aster "github.com/corven/aster"
)

func appendN(t *testing.T, store *Memory, streamID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		err := store.Append(context.Background(), streamID, aster.StreamEvent{
			ID:   "ignored",
			Type: aster.EventToken,
			Data: fmt.Sprintf("frag-%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	store := New()
	appendN(t, store, "s1", 5)

	events, err := store.Read(context.Background(), "s1", "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events", len(events))
	}
	for i, e := range events {
		want := fmt.Sprintf("%d", i+1)
		if e.ID != want {
			t.Errorf("event %d: id %q, want %q", i, e.ID, want)
		}
	}
	// Caller-passed ids are ignored.
	if events[0].ID == "ignored" {
		t.Error("store must assign its own ids")
	}
}

func TestReadAfterOffset(t *testing.T) {
	store := New()
	appendN(t, store, "s1", 5)

	events, err := store.Read(context.Background(), "s1", "3", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].ID != "4" || events[1].ID != "5" {
		t.Fatalf("read after 3: %+v", events)
	}

	// Strictly after: never returns the offset itself.
	for _, e := range events {
		if e.ID == "3" {
			t.Error("read returned the offset event")
		}
	}

	// Unknown offset yields empty.
	events, err = store.Read(context.Background(), "s1", "99", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("unknown offset must yield empty, got %+v", events)
	}
}

func TestReadCountLimit(t *testing.T) {
	store := New()
	appendN(t, store, "s1", 10)
	events, err := store.Read(context.Background(), "s1", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[2].ID != "3" {
		t.Errorf("count limit: %+v", events)
	}
}

func TestStatusLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	status, err := store.GetStatus(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Fatal("absent stream must have nil status")
	}

	appendN(t, store, "s1", 2)
	status, err = store.GetStatus(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if status == nil || status.State != aster.StreamGenerating || status.EventCount != 2 {
		t.Fatalf("status: %+v", status)
	}

	if err := store.MarkComplete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	status, _ = store.GetStatus(ctx, "s1")
	if status.State != aster.StreamCompleted {
		t.Errorf("state after complete: %q", status.State)
	}

	appendN(t, store, "s2", 1)
	if err := store.MarkFailed(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	status, _ = store.GetStatus(ctx, "s2")
	if status.State != aster.StreamFailed {
		t.Errorf("state after failed: %q", status.State)
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	store := New(WithTTL(30*time.Second), WithClock(func() time.Time { return now }))
	appendN(t, store, "s1", 3)

	// Still alive just inside the TTL.
	now = now.Add(29 * time.Second)
	if status, _ := store.GetStatus(context.Background(), "s1"); status == nil {
		t.Fatal("stream must still be alive inside the TTL")
	}

	// Gone past the TTL.
	now = now.Add(2 * time.Second)
	if status, _ := store.GetStatus(context.Background(), "s1"); status != nil {
		t.Fatal("expired stream must be observed as absent")
	}
	events, _ := store.Read(context.Background(), "s1", "", 100)
	if len(events) != 0 {
		t.Error("expired stream must read as empty")
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	store := New()
	appendN(t, store, "a", 3)
	appendN(t, store, "b", 2)

	eventsA, _ := store.Read(context.Background(), "a", "", 100)
	eventsB, _ := store.Read(context.Background(), "b", "", 100)
	if len(eventsA) != 3 || len(eventsB) != 2 {
		t.Fatalf("stream isolation broken: %d, %d", len(eventsA), len(eventsB))
	}
	if eventsB[0].ID != "1" {
		t.Errorf("per-stream counters must start at 1, got %q", eventsB[0].ID)
	}
}
