package cache

import "github.com/joschi/blueskyfeedbot/internal/fingerprint"

// Cache is an ordered set of digests, oldest first.
//
// Insertion order is first-seen order and survives persistence, which is what
// eviction relies on: the front of the sequence is always the entry recorded
// longest ago. Membership checks go through an index so filtering a feed is
// linear in the number of entries.
//
// Cache is owned by a single run and is not safe for concurrent use.
type Cache struct {
	order []fingerprint.Digest
	index map[fingerprint.Digest]struct{}
}

// New creates a cache holding digests in the given order.
// Repeated digests are collapsed; the first occurrence keeps its position.
func New(digests ...fingerprint.Digest) *Cache {
	c := &Cache{
		order: make([]fingerprint.Digest, 0, len(digests)),
		index: make(map[fingerprint.Digest]struct{}, len(digests)),
	}
	for _, d := range digests {
		c.Append(d)
	}
	return c
}

// Len returns the number of recorded digests.
func (c *Cache) Len() int {
	return len(c.order)
}

// Empty reports whether nothing has been recorded.
func (c *Cache) Empty() bool {
	return len(c.order) == 0
}

// Contains reports whether d has been recorded.
func (c *Cache) Contains(d fingerprint.Digest) bool {
	_, ok := c.index[d]
	return ok
}

// Append records d at the back of the cache.
// Returns false, leaving the cache unchanged, if d is already present.
func (c *Cache) Append(d fingerprint.Digest) bool {
	if _, ok := c.index[d]; ok {
		return false
	}
	c.order = append(c.order, d)
	c.index[d] = struct{}{}
	return true
}

// Digests returns a copy of the recorded digests, oldest first.
// The result is never nil so it always encodes as a JSON array.
func (c *Cache) Digests() []fingerprint.Digest {
	out := make([]fingerprint.Digest, len(c.order))
	copy(out, c.order)
	return out
}

// Evict drops the oldest digests until at most limit remain and returns how
// many were dropped. Survival depends on when a digest was written, not on how
// often it matched a feed entry.
func (c *Cache) Evict(limit int) int {
	if limit < 0 {
		limit = 0
	}
	excess := len(c.order) - limit
	if excess <= 0 {
		return 0
	}
	for _, d := range c.order[:excess] {
		delete(c.index, d)
	}
	kept := make([]fingerprint.Digest, limit)
	copy(kept, c.order[excess:])
	c.order = kept
	return excess
}
