package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreBeginCommitAndExists(t *testing.T) {
	store := newTestStore(t, Options{})
	key := "https://example.com/a.png"

	if store.Exists(key) {
		t.Fatalf("expected miss before write")
	}
	writeEntry(t, store, key, "payload")

	if !store.Exists(key) {
		t.Fatalf("expected hit after commit")
	}
	body, err := os.ReadFile(store.PathFor(key))
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if stats := store.Stats(); stats.Entries != 1 || stats.Bytes != int64(len("payload")) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStorePathForLayout(t *testing.T) {
	store := newTestStore(t, Options{})

	got := store.PathFor("https://example.com/a b*.png")
	want := filepath.Join(store.Root(), "http", "cache_https%3A%2F%2Fexample.com%2Fa+b%2A.png")
	if got != want {
		t.Fatalf("unexpected path\n got %s\nwant %s", got, want)
	}
	if store.PathFor("k") != store.PathFor("k") {
		t.Fatalf("PathFor must be deterministic")
	}

	long := "https://example.com/" + strings.Repeat("x", 300)
	name := filepath.Base(store.PathFor(long))
	if !strings.HasPrefix(name, "cache_") || len(name) != len("cache_")+40 {
		t.Fatalf("expected hashed name for long key, got %s", name)
	}
}

func TestStoreExistsIgnoresEmptyAndDirectories(t *testing.T) {
	store := newTestStore(t, Options{})

	if err := os.WriteFile(store.PathFor("empty"), nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if store.Exists("empty") {
		t.Fatalf("zero-length file must be treated as a miss")
	}

	if err := os.MkdirAll(store.PathFor("dir"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if store.Exists("dir") {
		t.Fatalf("directory must be treated as a miss")
	}
}

func TestStoreAbortLeavesNoFile(t *testing.T) {
	store := newTestStore(t, Options{})

	pending, err := store.Begin("k")
	if err != nil {
		t.Fatalf("begin error: %v", err)
	}
	if _, err := pending.Write([]byte("partial")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if store.Exists("k") {
		t.Fatalf("uncommitted data must not be visible")
	}
	if err := pending.Abort(); err != nil {
		t.Fatalf("abort error: %v", err)
	}
	if _, err := os.Stat(pending.TempPath()); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, got %v", err)
	}
	if store.Exists("k") {
		t.Fatalf("expected miss after abort")
	}
	if _, err := pending.Commit(); !errors.Is(err, ErrPendingClosed) {
		t.Fatalf("expected ErrPendingClosed, got %v", err)
	}
}

func TestStoreCommitRejectsEmpty(t *testing.T) {
	store := newTestStore(t, Options{})

	pending, err := store.Begin("k")
	if err != nil {
		t.Fatalf("begin error: %v", err)
	}
	if _, err := pending.Commit(); !errors.Is(err, ErrEmptyEntry) {
		t.Fatalf("expected ErrEmptyEntry, got %v", err)
	}
	if store.Exists("k") {
		t.Fatalf("empty commit must not create an entry")
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t, Options{})
	writeEntry(t, store, "k", "data")

	if err := store.Remove("k"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if store.Exists("k") {
		t.Fatalf("expected miss after remove")
	}
	if err := store.Remove("k"); err != nil {
		t.Fatalf("removing a missing entry should succeed: %v", err)
	}
	if stats := store.Stats(); stats.Entries != 0 || stats.Bytes != 0 {
		t.Fatalf("unexpected stats after remove %+v", stats)
	}
}

func TestStoreEvictsOldestOverByteBudget(t *testing.T) {
	store := newTestStore(t, Options{MaxBytes: 10})

	writeEntry(t, store, "a", "aaaa")
	writeEntry(t, store, "b", "bbbb")
	// 命中刷新 a 的位置，下一次淘汰 b
	if !store.Exists("a") {
		t.Fatalf("expected a cached")
	}
	writeEntry(t, store, "c", "cccc")

	if store.Exists("b") {
		t.Fatalf("expected b evicted")
	}
	if _, err := os.Stat(store.PathFor("b")); !os.IsNotExist(err) {
		t.Fatalf("expected evicted file removed, got %v", err)
	}
	if !store.Exists("a") || !store.Exists("c") {
		t.Fatalf("expected a and c retained")
	}
	if stats := store.Stats(); stats.Bytes != 8 {
		t.Fatalf("unexpected total bytes %d", stats.Bytes)
	}
}

func TestStoreEvictsOverEntryLimit(t *testing.T) {
	store := newTestStore(t, Options{MaxEntries: 2})

	writeEntry(t, store, "a", "1")
	writeEntry(t, store, "b", "2")
	writeEntry(t, store, "c", "3")

	if store.Exists("a") {
		t.Fatalf("expected oldest entry evicted")
	}
	if stats := store.Stats(); stats.Entries != 2 {
		t.Fatalf("unexpected entry count %d", stats.Entries)
	}
}

func TestNewStoreSeedsIndexAndCleansTemp(t *testing.T) {
	dir := t.TempDir()
	first := newStoreAt(t, dir, Options{})
	writeEntry(t, first, "old", "xxxxxx")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(first.PathFor("old"), old, old); err != nil {
		t.Fatalf("chtimes error: %v", err)
	}
	writeEntry(t, first, "new", "yyyyyy")

	leftover := filepath.Join(dir, "http", ".tmp-crashed")
	if err := os.WriteFile(leftover, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	second := newStoreAt(t, dir, Options{MaxBytes: 8})
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected leftover temp file removed, got %v", err)
	}
	if second.Exists("old") {
		t.Fatalf("expected oldest seeded entry evicted by budget")
	}
	if !second.Exists("new") {
		t.Fatalf("expected newest seeded entry retained")
	}
}

func TestLockerSerializesKey(t *testing.T) {
	root := t.TempDir()
	locker := NewLocker(root)

	unlock, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := NewLocker(root).Acquire(ctx, "k"); err == nil {
		t.Fatalf("expected second acquire to time out while held")
	}

	unlock()
	again, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire after release error: %v", err)
	}
	again()
}

func writeEntry(t *testing.T, store Store, key, body string) {
	t.Helper()
	pending, err := store.Begin(key)
	if err != nil {
		t.Fatalf("begin error: %v", err)
	}
	if _, err := pending.Write([]byte(body)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := pending.Commit(); err != nil {
		t.Fatalf("commit error: %v", err)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T, opts Options) Store {
	t.Helper()
	return newStoreAt(t, t.TempDir(), opts)
}

func newStoreAt(t *testing.T, dir string, opts Options) Store {
	t.Helper()
	store, err := NewStore(dir, opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
