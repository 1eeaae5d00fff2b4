package cache

import (
	"hash"
	"hash/fnv"
	"sync"

	"github.com/holiman/bloomfilter/v2"
)

// negativeCache remembers keys recently confirmed absent from every tier,
// so a request for a key that was just a miss doesn't re-probe all three
// tiers before falling through to the caller's origin fetch. A false
// positive skips the tier probes and costs one origin fetch the tiers could
// have answered; it never returns a wrong value.
//
// Bloom filters can't un-mark a key, so a key written via Set after being
// marked absent is tracked in rehabilitated until the next Reset, rather
// than being permanently treated as absent.
type negativeCache struct {
	mu            sync.Mutex
	filter        *bloomfilter.Filter
	rehabilitated map[string]struct{}
}

func newNegativeCache(expectedKeys uint64) *negativeCache {
	if expectedKeys == 0 {
		expectedKeys = 100000
	}
	f, err := bloomfilter.NewOptimal(expectedKeys, 0.01)
	if err != nil {
		// NewOptimal only fails for a degenerate (zero) expectedKeys/false
		// positive rate, both of which are fixed constants above.
		panic(err)
	}
	return &negativeCache{filter: f, rehabilitated: make(map[string]struct{})}
}

// MarkAbsent records key as recently confirmed absent from every tier.
func (n *negativeCache) MarkAbsent(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rehabilitated, key)
	n.filter.Add(keyHash(key))
}

// Rehabilitate records that key was just written to the cache, so a stale
// absent-mark from before it existed no longer applies.
func (n *negativeCache) Rehabilitate(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rehabilitated[key] = struct{}{}
}

// MaybeAbsent reports whether key was recently marked absent and hasn't
// since been rehabilitated by a Set. False positives (reporting maybe-absent
// for a key that was never marked) send the lookup straight to the origin
// fetch instead of the tiers; false negatives never happen.
func (n *negativeCache) MaybeAbsent(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.rehabilitated[key]; ok {
		return false
	}
	return n.filter.Contains(keyHash(key))
}

// Reset clears the filter, used after a GLOBAL invalidation where "recently
// absent" no longer means anything.
func (n *negativeCache) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter.Reset()
	n.rehabilitated = make(map[string]struct{})
}

func keyHash(key string) hash.Hash64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h
}
