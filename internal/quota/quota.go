// Package quota caps how many entries a single run publishes.
//
// A run that finds no persisted cache is backfilling from nothing and uses
// the initial limit; every later run uses the steady limit. The split keeps a
// first run against a feed with years of history from flooding the account.
//
// The quota only gates publishing. Entries over the limit are still recorded
// as seen by the caller and are never retried.
package quota

// Unlimited disables the cap when used as a limit. Any negative value works.
const Unlimited = -1

// Select picks the limit for a run.
func Select(firstRun bool, initial, steady int) int {
	if firstRun {
		return initial
	}
	return steady
}

// PostQuota counts publishes against a limit.
// Not safe for concurrent use; a run processes entries sequentially.
type PostQuota struct {
	limit  int
	posted int
}

// New creates a quota with the given limit.
func New(limit int) *PostQuota {
	return &PostQuota{limit: limit}
}

// Allow reports whether another entry may be published.
func (q *PostQuota) Allow() bool {
	return q.limit < 0 || q.posted < q.limit
}

// Record counts one successful publish.
func (q *PostQuota) Record() {
	q.posted++
}

// Posted returns the number of recorded publishes.
func (q *PostQuota) Posted() int {
	return q.posted
}

// Limit returns the configured limit.
func (q *PostQuota) Limit() int {
	return q.limit
}

// Remaining returns how many more publishes are allowed, or Unlimited.
func (q *PostQuota) Remaining() int {
	if q.limit < 0 {
		return Unlimited
	}
	if q.posted >= q.limit {
		return 0
	}
	return q.limit - q.posted
}
