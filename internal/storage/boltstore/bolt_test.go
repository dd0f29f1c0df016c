package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pastebin-lite/internal/storage"
)

func openTest(t *testing.T, name string) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCRUD(t *testing.T) {
	store := openTest(t, "test.db")
	ctx := context.Background()

	if err := store.Set(ctx, "paste:abc123", []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := store.Get(ctx, "paste:abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("expected content %q got %q", "hello", out)
	}

	if err := store.Del(ctx, "paste:abc123"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := store.Get(ctx, "paste:abc123"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Del(ctx, "paste:abc123"); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
}

func TestExpireHidesAndSetKeepsTTL(t *testing.T) {
	store := openTest(t, "ttl.db")
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)
	store.now = func() time.Time { return now }

	if err := store.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Expire(ctx, "k", 10*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}

	now = now.Add(5 * time.Second)
	if err := store.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	out, err := store.Get(ctx, "k")
	if err != nil || string(out) != "v2" {
		t.Fatalf("expected v2, got %q %v", out, err)
	}

	now = now.Add(5 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected TTL kept across overwrite, got %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	store := openTest(t, "exp.db")
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)
	store.now = func() time.Time { return now }

	for _, key := range []string{"alive", "dead"} {
		if err := store.Set(ctx, key, []byte(key)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := store.Expire(ctx, "alive", time.Hour); err != nil {
		t.Fatalf("expire alive: %v", err)
	}
	if err := store.Expire(ctx, "dead", time.Minute); err != nil {
		t.Fatalf("expire dead: %v", err)
	}

	removed, err := store.DeleteExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}

	if _, err := store.Get(ctx, "dead"); err == nil {
		t.Fatalf("expected expired key removed")
	}
	if _, err := store.Get(ctx, "alive"); err != nil {
		t.Fatalf("expected alive key: %v", err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	store := openTest(t, "cas.db")
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := store.CompareAndSwap(ctx, "k", []byte("stale"), []byte("v2")); err != nil || ok {
		t.Fatalf("expected rejected swap, got %v %v", ok, err)
	}
	if ok, err := store.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2")); err != nil || !ok {
		t.Fatalf("expected swap, got %v %v", ok, err)
	}
	if ok, err := store.CompareAndSwap(ctx, "missing", []byte("v1"), []byte("v2")); err != nil || ok {
		t.Fatalf("missing key must not swap, got %v %v", ok, err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
