package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore is an in-process Store for single-instance deployments and
// for tests that don't want a miniredis dependency. It has no cross-process
// visibility, so rate limits it backs are scoped to this instance only.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]memoryEntry
	sets     map[string]map[string]struct{}
	limiters map[string]*rate.Limiter
	buckets  map[string]int // burst size per key, needed to rebuild a limiter after rps/burst changes
}

type memoryEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]memoryEntry),
		sets:     make(map[string]map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
		buckets:  make(map[string]int),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.values[key] = memoryEntry{value: value, expires: expires}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.sets, key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	var n int64
	if ok && !s.expired(e) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	} else if ok {
		expires = e.expires
	}
	s.values[key] = memoryEntry{value: strconv.FormatInt(n, 10), expires: expires}
	return n, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, e := range s.values {
		if strings.HasPrefix(k, prefix) && !s.expired(e) {
			out = append(out, k)
		}
	}
	return out, nil
}

// EvalTokenBucket uses golang.org/x/time/rate per-key, keyed by (key, rps,
// burst): a change in rps/burst for the same key rebuilds the limiter with a
// full bucket. The Redis script instead keeps the stored token count and
// applies the new rps/burst to it.
func (s *MemoryStore) EvalTokenBucket(_ context.Context, key string, rps float64, burst int, _ time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limiters[key]
	if !ok || s.buckets[key] != burst || lim.Limit() != rate.Limit(rps) {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		s.limiters[key] = lim
		s.buckets[key] = burst
	}

	admitted := lim.Allow()
	remaining := int(lim.Tokens())
	return admitted, remaining, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}
