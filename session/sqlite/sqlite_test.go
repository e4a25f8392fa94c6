package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	aster "github.com/corven/aster"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleConversation() []aster.Message {
	return []aster.Message{
		aster.UserText("hello"),
		aster.AssistantBlocks(
			aster.Text("checking"),
			aster.ToolUse("t1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
		),
		aster.UserBlocks(aster.ToolResultFor("t1", "package main", false)),
		aster.AssistantBlocks(aster.Text("done")),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	conversation := sampleConversation()
	if err := store.Save(ctx, "s1", conversation); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}

	want, _ := json.Marshal(conversation)
	got, _ := json.Marshal(loaded)
	if string(want) != string(got) {
		t.Errorf("round trip mismatch:\nsaved  %s\nloaded %s", want, got)
	}
}

func TestLoadUnknownSessionIsEmpty(t *testing.T) {
	store := testStore(t)
	loaded, err := store.Load(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("unknown session: %+v", loaded)
	}
}

func TestSaveUpserts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "s1", []aster.Message{aster.UserText("v1")}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "s1", sampleConversation()); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 4 {
		t.Errorf("second save must replace: got %d messages", len(loaded))
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].MessageCount != 4 {
		t.Errorf("sessions: %+v", sessions)
	}
}

func TestUsageRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	records := []aster.UsageRecord{{
		Timestamp:           time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		InputTokens:         100,
		OutputTokens:        40,
		CacheCreationTokens: 10,
		CacheReadTokens:     20,
	}}
	if err := store.SaveUsage(ctx, "s1", records); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.LoadUsage(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0] != records[0] {
		t.Errorf("usage round trip: %+v", loaded)
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "s1", sampleConversation()); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveUsage(ctx, "s1", []aster.UsageRecord{{InputTokens: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	loaded, _ := store.Load(ctx, "s1")
	if len(loaded) != 0 {
		t.Error("conversation must be gone")
	}
	usage, _ := store.LoadUsage(ctx, "s1")
	if len(usage) != 0 {
		t.Error("usage must be gone")
	}
	sessions, _ := store.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Error("listing must be empty")
	}
}

func TestResetKeepsUsage(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "s1", sampleConversation()); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveUsage(ctx, "s1", []aster.UsageRecord{{InputTokens: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Reset(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	loaded, _ := store.Load(ctx, "s1")
	if len(loaded) != 0 {
		t.Error("conversation must be cleared")
	}
	usage, _ := store.LoadUsage(ctx, "s1")
	if len(usage) != 1 {
		t.Error("usage must survive a reset")
	}
}
