package common

import "time"

// IsFresh returns true if the given timestamp is within the TTL.
// Used by both the planner's staleness skip and the company cache; the two
// windows stay independent (fetch.staleness_hours vs fetch.company_cache_days)
// but share this predicate.
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
