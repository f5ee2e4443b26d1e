package eventlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CorralNAS/dispatcher-client/internal/eventlog"
)

func openStore(t *testing.T) *eventlog.Store {
	t.Helper()
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	names := []string{"volume.changed", "user.created", "volume.changed"}
	for i, name := range names {
		args, _ := json.Marshal(map[string]int{"seq": i})
		if err := store.Append(ctx, name, args); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Name != "volume.changed" || entries[2].Name != "volume.changed" {
		t.Fatalf("unexpected order: %v, %v, %v", entries[0].Name, entries[1].Name, entries[2].Name)
	}
	var args struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal(entries[0].Args, &args); err != nil || args.Seq != 2 {
		t.Fatalf("newest entry args = %s, want seq 2", entries[0].Args)
	}
	if entries[0].ReceivedAt.IsZero() {
		t.Fatal("entry missing received_at timestamp")
	}
}

func TestRecentFiltersByName(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "volume.changed", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "user.created", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := store.Recent(ctx, "user.created", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "user.created" {
		t.Fatalf("filtered entries = %v", entries)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestSecondRecorderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := eventlog.Open(path); !errors.Is(err, eventlog.ErrLocked) {
		t.Fatalf("second Open: got %v, want ErrLocked", err)
	}
}

func TestLockReleasedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = reopened.Close()
}
