package cache

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"golang.org/x/sync/singleflight"

	"github.com/edgemesh/core/pkg/logging"
)

// Fetcher retrieves fresh content for key from whatever the cache is in
// front of (the actual origin server). Get calls it on a full miss, on a
// NETWORK_FIRST/NETWORK_ONLY strategy, and asynchronously to revalidate a
// stale STALE_WHILE_REVALIDATE hit.
type Fetcher func(ctx context.Context, key string) (*Entry, error)

// Config tunes a Cache's tiers and behavior.
type Config struct {
	EdgeCapacity     int
	RegionalBytes    int
	OriginPath       string
	DefaultTTL       time.Duration
	CompressMinBytes int
}

// Cache composes the three tiers behind one tier-agnostic API.
type Cache struct {
	cfg     Config
	tiers   map[TierName]Tier
	metrics map[TierName]*Metrics
	tags    *TagIndex
	negative *negativeCache
	sf      singleflight.Group
	log     *logging.Logger
}

// New constructs a Cache with all three tiers wired. OriginPath is created
// on disk if it does not already exist (goleveldb.OpenFile handles this).
func New(cfg Config, log *logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.OriginPath == "" {
		cfg.OriginPath = filepath.Join(".", "data", "origin-cache")
	}
	if cfg.CompressMinBytes <= 0 {
		cfg.CompressMinBytes = 1024
	}

	origin, err := NewOriginTier(cfg.OriginPath)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg: cfg,
		tiers: map[TierName]Tier{
			TierEdge:     NewEdgeTier(cfg.EdgeCapacity),
			TierRegional: NewRegionalTier(cfg.RegionalBytes),
			TierOrigin:   origin,
		},
		metrics: map[TierName]*Metrics{
			TierEdge:     {},
			TierRegional: {},
			TierOrigin:   {},
		},
		tags:     NewTagIndex(),
		negative: newNegativeCache(100000),
		log:      log,
	}
	return c, nil
}

// Close releases tier resources that hold OS handles (the origin tier's
// goleveldb database).
func (c *Cache) Close() error {
	if o, ok := c.tiers[TierOrigin].(*OriginTier); ok {
		return o.Close()
	}
	return nil
}

// GetOptions parameterizes a Get call.
type GetOptions struct {
	Strategy Strategy
	Fetch    Fetcher // required for NETWORK_FIRST, NETWORK_ONLY, and STALE_WHILE_REVALIDATE refresh
}

// Result is what Get returns: the resolved entry (if any), whether it came
// from cache, and whether it was served stale while a revalidation was
// kicked off in the background.
type Result struct {
	Entry  *Entry
	Hit    bool
	Stale  bool
}

// Get resolves key per opts.Strategy, starting at the edge tier and
// probing regional then origin on miss, promoting upward on a lower-tier
// hit.
func (c *Cache) Get(ctx context.Context, key string, opts GetOptions) (Result, error) {
	switch opts.Strategy {
	case StrategyNetworkOnly:
		return c.fetchAndStore(ctx, key, opts.Fetch)
	case StrategyNetworkFirst:
		res, err := c.fetchAndStore(ctx, key, opts.Fetch)
		if err == nil {
			return res, nil
		}
		return c.getFromTiers(ctx, key, opts)
	default:
		return c.getFromTiers(ctx, key, opts)
	}
}

func (c *Cache) getFromTiers(ctx context.Context, key string, opts GetOptions) (Result, error) {
	if c.negative.MaybeAbsent(key) && opts.Strategy != StrategyCacheOnly && opts.Fetch != nil {
		// recently confirmed absent from every tier; skip straight past the
		// tier probes to the origin fetch.
		return c.fetchAndStore(ctx, key, opts.Fetch)
	}

	for i, tier := range Tiers {
		start := time.Now()
		raw, ok, err := c.tiers[tier].Get(ctx, key)
		if err != nil {
			c.metrics[tier].recordError()
			c.log.Warn("cache tier get error", "tier", string(tier), "key", key, "error", err.Error())
			continue
		}
		if !ok {
			c.metrics[tier].recordMiss(time.Since(start))
			continue
		}

		entry, err := decodeEntry(raw)
		if err != nil {
			c.metrics[tier].recordError()
			continue
		}

		if entry.Expired(time.Now()) {
			if opts.Strategy == StrategyStaleWhileRevalidate {
				c.metrics[tier].recordHit(int64(len(entry.Value)), time.Since(start))
				go c.revalidate(key, tier, opts.Fetch)
				return Result{Entry: c.decompress(entry), Hit: true, Stale: true}, nil
			}
			_ = c.tiers[tier].Del(ctx, key)
			c.tags.Forget(key)
			c.metrics[tier].recordMiss(time.Since(start))
			continue
		}

		entry.HitCount++
		c.metrics[tier].recordHit(int64(len(entry.Value)), time.Since(start))

		if i > 0 {
			for _, upper := range Tiers[:i] {
				_ = c.writeTier(ctx, upper, key, entry)
			}
		}
		return Result{Entry: c.decompress(entry), Hit: true}, nil
	}

	c.negative.MarkAbsent(key)
	if opts.Fetch == nil {
		return Result{}, nil
	}
	return c.fetchAndStore(ctx, key, opts.Fetch)
}

func (c *Cache) revalidate(key string, tier TierName, fetch Fetcher) {
	if fetch == nil {
		return
	}
	_, _, _ = c.sf.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entry, err := fetch(ctx, key)
		if err != nil {
			c.log.Warn("stale-while-revalidate fetch failed", "key", key, "error", err.Error())
			return nil, err
		}
		_ = c.Set(ctx, key, entry)
		return nil, nil
	})
}

func (c *Cache) fetchAndStore(ctx context.Context, key string, fetch Fetcher) (Result, error) {
	if fetch == nil {
		return Result{}, nil
	}
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return fetch(ctx, key)
	})
	if err != nil {
		return Result{}, err
	}
	entry := v.(*Entry)
	if err := c.Set(ctx, key, entry); err != nil {
		c.log.Warn("cache set after fetch failed", "key", key, "error", err.Error())
	}
	return Result{Entry: entry}, nil
}

// Set stores entry in the edge tier only; it is not written to the regional
// or origin tier. Promotion in Get copies a lower-tier hit into the tiers
// above it, never downward.
func (c *Cache) Set(ctx context.Context, key string, entry *Entry) error {
	entry.Key = key
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = time.Now().Add(c.cfg.DefaultTTL)
	}
	c.maybeCompress(entry)
	return c.writeTier(ctx, TierEdge, key, entry)
}

func (c *Cache) writeTier(ctx context.Context, tier TierName, key string, entry *Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := c.tiers[tier].Set(ctx, key, raw, ttl); err != nil {
		c.metrics[tier].recordError()
		return err
	}
	c.metrics[tier].recordStore(int64(len(entry.Value)))
	c.tags.Add(key, entry.Tags)
	c.negative.Rehabilitate(key)
	return nil
}

// maybeCompress snappy-compresses entry.Value in place when it is larger
// than CompressMinBytes and compression saves at least 10%.
func (c *Cache) maybeCompress(entry *Entry) {
	if entry.Compressed || len(entry.Value) <= c.cfg.CompressMinBytes {
		return
	}
	compressed := snappy.Encode(nil, entry.Value)
	if len(compressed) <= int(float64(len(entry.Value))*0.9) {
		entry.SizeBytes = len(compressed)
		entry.Value = compressed
		entry.Compressed = true
	} else {
		entry.SizeBytes = len(entry.Value)
	}
}

func (c *Cache) decompress(entry *Entry) *Entry {
	if !entry.Compressed {
		return entry
	}
	out, err := snappy.Decode(nil, entry.Value)
	if err != nil {
		c.log.Warn("cache entry decompress failed", "key", entry.Key, "error", err.Error())
		return entry
	}
	clone := *entry
	clone.Value = out
	clone.Compressed = false
	return &clone
}

// Delete removes key from every tier (or just the one named, if given).
func (c *Cache) Delete(ctx context.Context, key string, only *TierName) error {
	targets := Tiers
	if only != nil {
		targets = []TierName{*only}
	}
	for _, t := range targets {
		if err := c.tiers[t].Del(ctx, key); err != nil {
			c.metrics[t].recordError()
			continue
		}
		c.metrics[t].recordEviction()
	}
	c.tags.Forget(key)
	return nil
}

// Invalidate evicts entries per scope/value across the given tiers (every
// tier if only is nil), returning the number of distinct keys affected (or,
// for GLOBAL, the number of tiers flushed).
func (c *Cache) Invalidate(ctx context.Context, scope InvalidationScope, value string, only *TierName) (int, error) {
	targets := Tiers
	if only != nil {
		targets = []TierName{*only}
	}

	if scope == ScopeGlobal {
		for _, t := range targets {
			if err := c.tiers[t].Flush(ctx); err != nil {
				c.metrics[t].recordError()
				continue
			}
			c.metrics[t].recordInvalidations(1)
		}
		c.negative.Reset()
		return len(targets), nil
	}

	affected := make(map[string]struct{})
	for _, t := range targets {
		keys, err := c.keysForScope(ctx, t, scope, value)
		if err != nil {
			c.metrics[t].recordError()
			continue
		}
		for _, k := range keys {
			_ = c.tiers[t].Del(ctx, k)
			c.tags.Forget(k)
			affected[k] = struct{}{}
		}
		c.metrics[t].recordInvalidations(len(keys))
	}
	return len(affected), nil
}

func (c *Cache) keysForScope(ctx context.Context, tier TierName, scope InvalidationScope, value string) ([]string, error) {
	switch scope {
	case ScopeExact:
		return []string{value}, nil
	case ScopePrefix:
		return c.tiers[tier].ScanPrefix(ctx, value)
	case ScopeTag:
		return c.tags.Keys(value), nil
	case ScopePattern:
		all, err := c.tiers[tier].ScanPrefix(ctx, "")
		if err != nil {
			return nil, err
		}
		var out []string
		for _, k := range all {
			if matched, _ := path.Match(value, k); matched {
				out = append(out, k)
			}
		}
		return out, nil
	case ScopeGlobal:
		return nil, nil
	default:
		return nil, nil
	}
}

// Metrics returns a snapshot of every tier's counters.
func (c *Cache) Metrics() map[TierName]Snapshot {
	out := make(map[TierName]Snapshot, len(c.metrics))
	for t, m := range c.metrics {
		out[t] = m.snapshot()
	}
	return out
}
