package llm

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T, ttlSeconds int) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.sqlite"), ttlSeconds)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := openTestCache(t, 0)

	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || value != "v1" {
		t.Fatalf("Get after Set: value=%q ok=%v err=%v", value, ok, err)
	}

	if err := cache.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	value, _, _ = cache.Get(ctx, "k")
	if value != "v2" {
		t.Errorf("overwrite not visible: got %q", value)
	}

	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Error("entry still present after Delete")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	cache := openTestCache(t, 60)

	if err := cache.Set(ctx, "fresh", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "fresh"); !ok {
		t.Fatal("fresh entry reported as expired")
	}

	// Backdate the entry past the TTL.
	if _, err := cache.db.ExecContext(ctx,
		"UPDATE llm_cache SET created_at = created_at - 120 WHERE key = ?", "fresh"); err != nil {
		t.Fatalf("backdating entry: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "fresh"); ok {
		t.Error("expired entry served")
	}
	// The expired row is deleted on read.
	var n int
	if err := cache.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM llm_cache WHERE key = ?", "fresh").Scan(&n); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if n != 0 {
		t.Errorf("expired row not deleted, count=%d", n)
	}
}

func TestMakeCacheKey(t *testing.T) {
	a := MakeCacheKey("storyteller_generate", "openai/main/gpt-4o", "v0-mvp", "hash", "0.40")
	b := MakeCacheKey("storyteller_generate", "openai/main/gpt-4o", "v0-mvp", "hash", "0.40")
	c := MakeCacheKey("storyteller_generate", "openai/main/gpt-4o", "v0-mvp", "hash", "0.65")
	if a != b {
		t.Error("identical parts produced different keys")
	}
	if a == c {
		t.Error("different parts produced the same key")
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char hex key, got %d chars", len(a))
	}
}
