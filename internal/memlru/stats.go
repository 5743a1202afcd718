package memlru

import "sync/atomic"

// Stats is a snapshot of runtime counters for a memory tier. It is not
// part of spec.md's required surface (§6 lists only contains/get/update/
// remove/remove_all/count/cost/trim_*), but the teacher package tracked
// hits/misses/evictions for exactly this kind of diagnostic visibility,
// and the counters cost nothing to keep wired into Get/Update/eviction.
// They are exposed only through this method.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type statCounters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats returns a consistent-enough snapshot of the tier's counters.
// Individual fields may interleave with concurrent updates; callers
// wanting point-in-time consistency should not rely on cross-field
// invariants (e.g. hits+misses == total gets is only approximate).
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Evictions: c.stats.evictions.Load(),
	}
}
