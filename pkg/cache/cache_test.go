package cache

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{
		EdgeCapacity:     10,
		RegionalBytes:    1024 * 1024,
		OriginPath:       t.TempDir(),
		DefaultTTL:       time.Minute,
		CompressMinBytes: 16,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheSetThenGetHitsEdge(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "k1", &Entry{Value: []byte("hello"), ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get(ctx, "k1", GetOptions{Strategy: StrategyCacheFirst})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res.Hit || string(res.Entry.Value) != "hello" {
		t.Fatalf("expected a hit with value 'hello', got %+v", res)
	}
}

func TestCacheMissWithoutFetcherReturnsNoHit(t *testing.T) {
	c := newTestCache(t)
	res, err := c.Get(context.Background(), "missing", GetOptions{Strategy: StrategyCacheFirst})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Hit {
		t.Fatal("expected a miss for an unset key")
	}
}

func TestCacheMissFallsThroughToFetcher(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	fetch := func(ctx context.Context, key string) (*Entry, error) {
		calls++
		return &Entry{Value: []byte("origin-value"), ContentType: "text/plain"}, nil
	}

	res, err := c.Get(context.Background(), "k2", GetOptions{Strategy: StrategyCacheFirst, Fetch: fetch})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(res.Entry.Value) != "origin-value" {
		t.Fatalf("expected fetched value, got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one fetch call, got %d", calls)
	}

	// A second Get should now hit the cache without calling fetch again.
	res2, err := c.Get(context.Background(), "k2", GetOptions{Strategy: StrategyCacheFirst, Fetch: fetch})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res2.Hit || calls != 1 {
		t.Fatalf("expected second call to be a cache hit without refetching, calls=%d res=%+v", calls, res2)
	}
}

func TestCacheCompressesLargeValues(t *testing.T) {
	c := newTestCache(t)
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i % 7) // compressible, repetitive pattern
	}

	if err := c.Set(context.Background(), "big", &Entry{Value: big, ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get(context.Background(), "big", GetOptions{Strategy: StrategyCacheFirst})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Entry.Value) != len(big) {
		t.Fatalf("expected decompressed value to match original length, got %d want %d", len(res.Entry.Value), len(big))
	}
}

func TestCacheExactInvalidationRemovesEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k3", &Entry{Value: []byte("v")})

	n, err := c.Invalidate(ctx, ScopeExact, "k3", nil)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one key invalidated")
	}

	res, _ := c.Get(ctx, "k3", GetOptions{Strategy: StrategyCacheFirst})
	if res.Hit {
		t.Fatal("expected key to be gone after exact invalidation")
	}
}

func TestCacheTagInvalidationRemovesTaggedKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k4", &Entry{Value: []byte("v"), Tags: []string{"region:us-east"}})
	_ = c.Set(ctx, "k5", &Entry{Value: []byte("v"), Tags: []string{"region:us-east"}})
	_ = c.Set(ctx, "k6", &Entry{Value: []byte("v"), Tags: []string{"region:eu-west"}})

	n, err := c.Invalidate(ctx, ScopeTag, "region:us-east", nil)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys invalidated by tag, got %d", n)
	}

	if res, _ := c.Get(ctx, "k6", GetOptions{Strategy: StrategyCacheFirst}); !res.Hit {
		t.Fatal("expected unrelated tag's key to survive")
	}
}

func TestCacheStaleWhileRevalidateServesStaleAndRefreshes(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k7", &Entry{Value: []byte("stale"), ExpiresAt: time.Now().Add(-time.Second)})

	refreshed := make(chan struct{}, 1)
	fetch := func(ctx context.Context, key string) (*Entry, error) {
		refreshed <- struct{}{}
		return &Entry{Value: []byte("fresh")}, nil
	}

	res, err := c.Get(ctx, "k7", GetOptions{Strategy: StrategyStaleWhileRevalidate, Fetch: fetch})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res.Stale || string(res.Entry.Value) != "stale" {
		t.Fatalf("expected a stale hit serving the old value, got %+v", res)
	}

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected async revalidation to call fetch")
	}
}

func TestCacheGlobalInvalidationFlushesAllTiers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k8", &Entry{Value: []byte("v")})

	if _, err := c.Invalidate(ctx, ScopeGlobal, "", nil); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	res, _ := c.Get(ctx, "k8", GetOptions{Strategy: StrategyCacheOnly})
	if res.Hit {
		t.Fatal("expected global invalidation to clear everything")
	}
}

func TestDeriveKeyIsStableUnderQueryReordering(t *testing.T) {
	a := DeriveKey(KeyParts{Scheme: "https", Host: "edge.example.com", Path: "/v1/items", Query: map[string][]string{"b": {"2"}, "a": {"1"}}})
	b := DeriveKey(KeyParts{Scheme: "https", Host: "edge.example.com", Path: "/v1/items", Query: map[string][]string{"a": {"1"}, "b": {"2"}}})
	if a != b {
		t.Fatalf("expected key derivation to be order-independent, got %q and %q", a, b)
	}
}

func TestTagIndexForgetTagReturnsKeys(t *testing.T) {
	idx := NewTagIndex()
	idx.Add("x", []string{"t1"})
	idx.Add("y", []string{"t1"})

	keys := idx.ForgetTag("t1")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under tag, got %d", len(keys))
	}
	if len(idx.Keys("t1")) != 0 {
		t.Fatal("expected tag to be fully forgotten")
	}
}

func TestNegativeCacheMarksAbsentKeys(t *testing.T) {
	n := newNegativeCache(1000)
	n.MarkAbsent("never-set")
	if !n.MaybeAbsent("never-set") {
		t.Fatal("expected key to be reported as maybe-absent after MarkAbsent")
	}
}

func TestNegativeCacheRehabilitateOverridesMark(t *testing.T) {
	n := newNegativeCache(1000)
	n.MarkAbsent("k")
	n.Rehabilitate("k")
	if n.MaybeAbsent("k") {
		t.Fatal("expected rehabilitation to override a prior absent mark")
	}
}
