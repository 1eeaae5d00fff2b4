package cache

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// TagIndex tracks the key membership of each invalidation tag in-process,
// mirroring the `tag:<t>` Redis sets the original implementation keeps
// alongside cache entries, but scoped across every tier at once since tags
// are a cross-tier invalidation concept.
type TagIndex struct {
	mu        sync.RWMutex
	tagToKeys map[string]mapset.Set[string]
	keyToTags map[string]mapset.Set[string]
}

// NewTagIndex constructs an empty TagIndex.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		tagToKeys: make(map[string]mapset.Set[string]),
		keyToTags: make(map[string]mapset.Set[string]),
	}
}

// Add associates key with every tag in tags.
func (idx *TagIndex) Add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	keyTags, ok := idx.keyToTags[key]
	if !ok {
		keyTags = mapset.NewSet[string]()
		idx.keyToTags[key] = keyTags
	}

	for _, tag := range tags {
		keyTags.Add(tag)
		tagKeys, ok := idx.tagToKeys[tag]
		if !ok {
			tagKeys = mapset.NewSet[string]()
			idx.tagToKeys[tag] = tagKeys
		}
		tagKeys.Add(key)
	}
}

// Keys returns every key currently associated with tag.
func (idx *TagIndex) Keys(tag string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tagKeys, ok := idx.tagToKeys[tag]
	if !ok {
		return nil
	}
	return tagKeys.ToSlice()
}

// Forget removes key from every tag it was associated with, and drops the
// tag set once empty.
func (idx *TagIndex) Forget(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.forgetLocked(key)
}

func (idx *TagIndex) forgetLocked(key string) {
	tags, ok := idx.keyToTags[key]
	if !ok {
		return
	}
	for _, tag := range tags.ToSlice() {
		if tagKeys, ok := idx.tagToKeys[tag]; ok {
			tagKeys.Remove(key)
			if tagKeys.Cardinality() == 0 {
				delete(idx.tagToKeys, tag)
			}
		}
	}
	delete(idx.keyToTags, key)
}

// ForgetTag removes an entire tag and returns the keys that were under it,
// so the caller can delete them from storage too.
func (idx *TagIndex) ForgetTag(tag string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tagKeys, ok := idx.tagToKeys[tag]
	if !ok {
		return nil
	}
	keys := tagKeys.ToSlice()
	for _, k := range keys {
		if kt, ok := idx.keyToTags[k]; ok {
			kt.Remove(tag)
			if kt.Cardinality() == 0 {
				delete(idx.keyToTags, k)
			}
		}
	}
	delete(idx.tagToKeys, tag)
	return keys
}
