package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// regionalRecord wraps a value with its absolute expiry, since fastcache
// itself has no per-key TTL concept (it's a pure fixed-size byte-capacity
// cache with its own internal LRU-ish eviction).
type regionalRecord struct {
	Value   []byte
	Expires int64 // unix nanos, 0 means no expiry
}

// RegionalTier wraps a fastcache.Cache for the mid-tier, regional-cluster
// cache. fastcache pre-allocates its byte budget up front and evicts by its
// own internal algorithm once that budget is exhausted, so capacity is
// configured in bytes rather than key count.
type RegionalTier struct {
	cache *fastcache.Cache

	mu   sync.Mutex
	keys map[string]struct{} // tracked separately since fastcache can't enumerate keys
}

// NewRegionalTier constructs a RegionalTier with maxBytes of capacity.
func NewRegionalTier(maxBytes int) *RegionalTier {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	return &RegionalTier{
		cache: fastcache.New(maxBytes),
		keys:  make(map[string]struct{}),
	}
}

func (t *RegionalTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, ok := t.cache.HasGet(nil, []byte(key))
	if !ok {
		return nil, false, nil
	}
	rec, err := decodeRegionalRecord(raw)
	if err != nil {
		return nil, false, err
	}
	if rec.Expires != 0 && time.Now().UnixNano() > rec.Expires {
		t.Del(context.Background(), key)
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (t *RegionalTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixNano()
	}
	raw, err := encodeRegionalRecord(regionalRecord{Value: value, Expires: expires})
	if err != nil {
		return err
	}
	t.cache.Set([]byte(key), raw)

	t.mu.Lock()
	t.keys[key] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *RegionalTier) Del(_ context.Context, key string) error {
	t.cache.Del([]byte(key))
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
	return nil
}

func (t *RegionalTier) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for k := range t.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (t *RegionalTier) Flush(_ context.Context) error {
	t.cache.Reset()
	t.mu.Lock()
	t.keys = make(map[string]struct{})
	t.mu.Unlock()
	return nil
}

func encodeRegionalRecord(r regionalRecord) ([]byte, error) { return json.Marshal(r) }

func decodeRegionalRecord(raw []byte) (regionalRecord, error) {
	var r regionalRecord
	err := json.Unmarshal(raw, &r)
	return r, err
}
