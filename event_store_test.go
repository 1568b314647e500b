package main

import (
	stdjson "encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestEventStore(t *testing.T) (*eventStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := openEventStore(path)
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestEventStoreRecordAndRecent(t *testing.T) {
	store, _ := newTestEventStore(t)

	store.Record(eventKindReset, "alice", resetDetail{Deadline: 1234, Duration: 5678, Source: "api"})
	store.Record(eventKindAlert, "", alertCycleDetail{Sent: 2, Failed: 1, Total: 3})
	store.Flush()

	events, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].Kind != eventKindAlert || events[1].Kind != eventKindReset {
		t.Fatalf("unexpected order: %s then %s", events[0].Kind, events[1].Kind)
	}
	if events[1].Actor != "alice" {
		t.Fatalf("expected actor alice, got %q", events[1].Actor)
	}
	if events[0].CreatedAt == 0 {
		t.Fatal("expected a created-at timestamp")
	}

	var detail resetDetail
	if err := stdjson.Unmarshal(events[1].Detail, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Deadline != 1234 || detail.Duration != 5678 || detail.Source != "api" {
		t.Fatalf("detail round trip mismatch: %+v", detail)
	}
}

func TestEventStoreRecentLimit(t *testing.T) {
	store, _ := newTestEventStore(t)

	for i := 0; i < 30; i++ {
		store.Record(eventKindReset, "bot", nil)
	}
	store.Flush()

	events, err := store.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	// Non-positive limits fall back to the default page size.
	events, err = store.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != defaultHistoryLimit {
		t.Fatalf("expected %d events, got %d", defaultHistoryLimit, len(events))
	}
}

func TestEventStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := openEventStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store.Record(eventKindDuration, "", durationDetail{Previous: 1000, Current: 2000})
	store.Flush()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := openEventStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 || events[0].Kind != eventKindDuration {
		t.Fatalf("expected the persisted event, got %+v", events)
	}
}

func TestEventStoreNilReceiverIsSafe(t *testing.T) {
	var store *eventStore
	store.Record(eventKindReset, "x", nil)
	store.Flush()
	if events, err := store.Recent(5); err != nil || events != nil {
		t.Fatalf("nil store Recent: %v %v", events, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("nil store Close: %v", err)
	}
}

func TestEventStoreRecordAfterCloseIsSafe(t *testing.T) {
	store, _ := newTestEventStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic or block.
	store.Record(eventKindReset, "late", nil)
	store.Flush()
}

func TestEventDBPath(t *testing.T) {
	if got := eventDBPath("custom"); got != filepath.Join("custom", "state", "events.db") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := eventDBPath(""); got != filepath.Join(defaultDataDir, "state", "events.db") {
		t.Fatalf("empty data dir must fall back to the default, got %q", got)
	}
}

func TestEventStoreDropsWhenQueueFull(t *testing.T) {
	store, _ := newTestEventStore(t)

	// Overrun the queue; Record must never block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventQueueSize*4; i++ {
			store.Record(eventKindReset, "burst", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	store.Flush()
}
