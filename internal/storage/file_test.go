package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"notiq/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st := openTestStore(t, path)
	defer st.Close()

	if err := st.Put(ctx, "u1", "dnd.schedules", []byte(`[{"id":"s1"}]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := st.Get(ctx, "u1", "dnd.schedules")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want value", ok, err)
	}
	if string(got) != `[{"id":"s1"}]` {
		t.Fatalf("Get = %s, want the stored value", got)
	}

	if _, ok, _ := st.Get(ctx, "u1", "other.key"); ok {
		t.Fatal("Get(unknown key) = ok, want miss")
	}
	if _, ok, _ := st.Get(ctx, "u2", "dnd.schedules"); ok {
		t.Fatal("Get(unknown user) = ok, want miss")
	}

	if err := st.Delete(ctx, "u1", "dnd.schedules"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "u1", "dnd.schedules"); ok {
		t.Fatal("Get after delete = ok, want miss")
	}
	// Deleting a missing record is a no-op.
	if err := st.Delete(ctx, "u1", "dnd.schedules"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st := openTestStore(t, path)
	if err := st.Put(ctx, "u1", "queue.entries", []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "u2", "queue.entries", []byte(`[4]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Delete(ctx, "u2", "queue.entries"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, path)
	defer st2.Close()
	got, ok, err := st2.Get(ctx, "u1", "queue.entries")
	if err != nil || !ok || string(got) != `[1,2,3]` {
		t.Fatalf("Get after reopen = (%s, %v, %v), want the stored value", got, ok, err)
	}
	if _, ok, _ := st2.Get(ctx, "u2", "queue.entries"); ok {
		t.Fatal("deleted record resurrected after reopen")
	}
}

func TestFileStoreToleratesTornJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st := openTestStore(t, path)
	if err := st.Put(ctx, "u1", "k", []byte(`"intact"`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Closing compacts, so append the torn line to the fresh journal.
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	journal := filepath.Join(dir, "state.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := f.WriteString(`{"user":"u1","key":"k","val`); err != nil {
		t.Fatalf("write torn record: %v", err)
	}
	_ = f.Close()

	st2 := openTestStore(t, path)
	defer st2.Close()
	got, ok, err := st2.Get(ctx, "u1", "k")
	if err != nil || !ok || string(got) != `"intact"` {
		t.Fatalf("Get = (%s, %v, %v), want the snapshot value", got, ok, err)
	}
}

func TestFileStoreListKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer st.Close()

	if err := st.Put(ctx, "u1", "dnd.session", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "u2", "dnd.session", []byte(`{"b":2}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "u2", "queue.entries", []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := st.ListKey(ctx, "dnd.session")
	if err != nil {
		t.Fatalf("ListKey: %v", err)
	}
	if len(got) != 2 || string(got["u1"]) != `{"a":1}` || string(got["u2"]) != `{"b":2}` {
		t.Fatalf("ListKey = %v, want both users' sessions", got)
	}
}

func TestPutEmptyValueDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer st.Close()

	if err := st.Put(ctx, "u1", "k", []byte(`1`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "u1", "k", nil); err != nil {
		t.Fatalf("Put(nil): %v", err)
	}
	if _, ok, _ := st.Get(ctx, "u1", "k"); ok {
		t.Fatal("Get after empty Put = ok, want miss")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(disabled) = (%v, %v), want (nil, nil)", st, err)
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
