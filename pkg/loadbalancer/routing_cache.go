package loadbalancer

import (
	"container/list"
	"sync"
	"time"
)

// RouteKey identifies one routing decision entry: client IP, request path,
// and method.
type RouteKey struct {
	ClientIP string
	Path     string
	Method   string
}

type routeEntry struct {
	key       RouteKey
	endpoints []string
	expires   time.Time
	elem      *list.Element
}

// RoutingCache remembers recent routing decisions so identical requests
// skip policy evaluation until dns_ttl elapses, purging the oldest entry
// once capacity is exceeded.
type RoutingCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	data     map[RouteKey]*routeEntry
	order    *list.List
}

// NewRoutingCache constructs a RoutingCache capped at capacity entries with
// the given TTL (keyed by dns_ttl per routing config); a non-positive ttl
// means 60 seconds.
func NewRoutingCache(capacity int, ttl time.Duration) *RoutingCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RoutingCache{
		capacity: capacity,
		ttl:      ttl,
		data:     make(map[RouteKey]*routeEntry),
		order:    list.New(),
	}
}

// Get returns a cached routing decision, if present and unexpired.
func (c *RoutingCache) Get(key RouteKey) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(key)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.endpoints, true
}

// Put records a routing decision, evicting the oldest entry if the cache is
// at capacity.
func (c *RoutingCache) Put(key RouteKey, endpoints []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok {
		e.endpoints = endpoints
		e.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	elem := c.order.PushFront(key)
	c.data[key] = &routeEntry{key: key, endpoints: endpoints, expires: time.Now().Add(c.ttl), elem: elem}

	for len(c.data) > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(RouteKey))
	}
}

func (c *RoutingCache) removeLocked(key RouteKey) {
	e, ok := c.data[key]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.data, key)
}

// Flush clears every cached routing decision, used on a failover event.
func (c *RoutingCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[RouteKey]*routeEntry)
	c.order = list.New()
}

// Len returns the number of cached entries.
func (c *RoutingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
