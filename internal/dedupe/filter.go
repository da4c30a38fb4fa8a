// Package dedupe removes already-published entries from a fetched feed and
// fixes the order in which the rest are processed.
package dedupe

import (
	"sort"

	"github.com/joschi/blueskyfeedbot/internal/cache"
	"github.com/joschi/blueskyfeedbot/internal/feed"
	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

// Filter returns the entries of a feed that still need processing.
//
// With an empty cache every entry passes through unchanged and in feed order.
// Otherwise entries whose link digest is cached are dropped, as are repeats of
// a link already kept from the same batch, and the survivors are ordered by
// Published ascending so a backlog is replayed oldest first.
//
// Ordering compares the Published strings lexicographically with a stable
// sort. Entries without a timestamp go after all dated entries; ties and
// undated entries keep their feed order.
//
// Entries without a link are kept so the caller can report them.
func Filter(entries []feed.Entry, c *cache.Cache) []feed.Entry {
	if c == nil || c.Empty() {
		return entries
	}

	out := make([]feed.Entry, 0, len(entries))
	batch := make(map[fingerprint.Digest]struct{}, len(entries))
	for _, e := range entries {
		if e.Link == "" {
			out = append(out, e)
			continue
		}
		d := fingerprint.Of(e.Link)
		if c.Contains(d) {
			continue
		}
		if _, dup := batch[d]; dup {
			continue
		}
		batch[d] = struct{}{}
		out = append(out, e)
	}

	SortOldestFirst(out)
	return out
}

// SortOldestFirst orders entries by Published ascending in place.
func SortOldestFirst(entries []feed.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Published, entries[j].Published
		switch {
		case a == "":
			return false
		case b == "":
			return true
		default:
			return a < b
		}
	})
}
