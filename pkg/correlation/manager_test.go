package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManagerFromRequestGeneratesID(t *testing.T) {
	m := NewManager(context.Background(), DefaultStoreConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)

	c := m.FromRequest(req)
	if c.CorrelationID == "" {
		t.Fatal("expected a generated correlation id")
	}
	if c.RequestType != "http" {
		t.Fatalf("expected request type http, got %q", c.RequestType)
	}

	stored, ok := m.store.Get(c.CorrelationID)
	if !ok || stored.CorrelationID != c.CorrelationID {
		t.Fatal("expected context to be stored")
	}
}

func TestManagerFromRequestPropagatesHeader(t *testing.T) {
	m := NewManager(context.Background(), DefaultStoreConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)
	req.Header.Set("X-Correlation-Id", "corr_fixed0000000")

	c := m.FromRequest(req)
	if c.CorrelationID != "corr_fixed0000000" {
		t.Fatalf("expected propagated correlation id, got %q", c.CorrelationID)
	}
}

func TestManagerSpawnLinksParent(t *testing.T) {
	m := NewManager(context.Background(), DefaultStoreConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)
	parent := m.FromRequest(req)

	child := m.Spawn(parent, "refresh-cache", "async_task")
	if child.ParentCorrelationID != parent.CorrelationID {
		t.Fatalf("expected child to reference parent %q, got %q", parent.CorrelationID, child.ParentCorrelationID)
	}
	if child.UserID != parent.UserID || child.SessionID != parent.SessionID {
		t.Fatal("expected child to inherit identity from parent")
	}

	chain := m.Chain(parent.CorrelationID)
	if len(chain) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(chain))
	}
}

func TestContextToHeadersOmitsEmptyFields(t *testing.T) {
	c := Open("corr_test", "http")
	headers := c.ToHeaders()
	if _, ok := headers["X-User-Id"]; ok {
		t.Fatal("expected empty user id to be omitted")
	}
	if headers["X-Correlation-Id"] != "corr_test" {
		t.Fatalf("unexpected correlation header: %v", headers)
	}
}

func TestStoreEvictsExpiredEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore(ctx, StoreConfig{MaxSize: 100, TTL: 10 * time.Millisecond, CleanupInterval: 20 * time.Millisecond})
	c := Open("corr_expiring", "http")
	s.Put(c)

	time.Sleep(80 * time.Millisecond)

	if _, ok := s.Get("corr_expiring"); ok {
		t.Fatal("expected entry to have been evicted after TTL + sweep")
	}
}

func TestStoreEvictsOverflowByLRU(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore(ctx, StoreConfig{MaxSize: 2, TTL: time.Hour, CleanupInterval: 20 * time.Millisecond})
	s.Put(Open("corr_a", "http"))
	time.Sleep(5 * time.Millisecond)
	s.Put(Open("corr_b", "http"))
	time.Sleep(5 * time.Millisecond)
	s.Put(Open("corr_c", "http"))

	time.Sleep(60 * time.Millisecond)

	if _, ok := s.Get("corr_a"); ok {
		t.Fatal("expected oldest entry to have been evicted on overflow")
	}
	if _, ok := s.Get("corr_c"); !ok {
		t.Fatal("expected newest entry to survive overflow eviction")
	}
}
