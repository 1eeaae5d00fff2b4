package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func testGetSetDel(t *testing.T, s Store) {
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get after set: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after del")
	}
}

func testTTLExpiry(t *testing.T, s Store, sleep time.Duration) {
	ctx := context.Background()
	if err := s.Set(ctx, "ttl-key", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(sleep)
	if _, ok, _ := s.Get(ctx, "ttl-key"); ok {
		t.Fatalf("expected key to have expired")
	}
}

func testSetOps(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.SAdd(ctx, "tags:foo", "a", "b", "c"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, err := s.SMembers(ctx, "tags:foo")
	if err != nil || len(members) != 3 {
		t.Fatalf("smembers: %v err=%v", members, err)
	}
	if err := s.SRem(ctx, "tags:foo", "b"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	members, _ = s.SMembers(ctx, "tags:foo")
	if len(members) != 2 {
		t.Fatalf("expected 2 members after srem, got %d", len(members))
	}
}

func testTokenBucket(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()

	admitted := 0
	for i := 0; i < 10; i++ {
		ok, _, err := s.EvalTokenBucket(ctx, "bucket:x", 1, 5, now)
		if err != nil {
			t.Fatalf("eval token bucket: %v", err)
		}
		if ok {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("expected burst of 5 admissions, got %d", admitted)
	}

	ok, _, err := s.EvalTokenBucket(ctx, "bucket:x", 1, 5, now)
	if err != nil {
		t.Fatalf("eval token bucket: %v", err)
	}
	if ok {
		t.Fatalf("expected bucket to be exhausted")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	t.Run("GetSetDel", func(t *testing.T) { testGetSetDel(t, s) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, s, 40*time.Millisecond) })
	t.Run("SetOps", func(t *testing.T) { testSetOps(t, s) })
	t.Run("TokenBucket", func(t *testing.T) { testTokenBucket(t, s) })
}

func TestRedisStore(t *testing.T) {
	s := newTestRedisStore(t)
	t.Run("GetSetDel", func(t *testing.T) { testGetSetDel(t, s) })
	t.Run("SetOps", func(t *testing.T) { testSetOps(t, s) })
	t.Run("TokenBucket", func(t *testing.T) { testTokenBucket(t, s) })
}

func TestMemoryStoreScanPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "cache:a:1", "v", 0)
	_ = s.Set(ctx, "cache:a:2", "v", 0)
	_ = s.Set(ctx, "cache:b:1", "v", 0)

	keys, err := s.ScanPrefix(ctx, "cache:a:")
	if err != nil {
		t.Fatalf("scan prefix: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under cache:a:, got %d (%v)", len(keys), keys)
	}
}
