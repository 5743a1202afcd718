// Package memlru implements the bounded, in-memory LRU tier (spec.md's C2
// intrusive map plus C3 memory cache): a generic key/value store that
// tracks recency and an opaque per-entry cost, trims itself against
// count/cost/age limits, and reacts to host-lifecycle signals.
package memlru

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arjunsai/duocache/internal/trylock"
)

// Cache is a bounded, thread-safe, in-memory LRU map. All state is guarded
// by a single trylock.Lock, matching C1; reads refresh recency the same as
// writes, per spec.md §4.3.
type Cache[K comparable, V any] struct {
	lock  trylock.Lock
	index map[K]*node[K, V]
	lst   list[K, V]

	countLimit       uint64
	costLimit        uint64
	ageLimit         time.Duration
	autoTrimInterval time.Duration

	removeAllOnMemoryWarning bool
	removeAllOnBackground    bool
	releaseAsynchronously    bool
	releaseOnMainThread      bool

	onEvict         func(key K, value V)
	onMemoryWarning func()
	onBackground    func()
	signals         Signals
	log             zerolog.Logger

	stats statCounters

	trimNow       chan struct{}
	releaseCh     chan []released[K, V]
	mainReleaseCh chan []released[K, V]

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// released pairs a key and value evicted from the tier, queued for
// off-lock delivery to onEvict.
type released[K comparable, V any] struct {
	key   K
	value V
}

// New constructs a Cache and starts its background workers. Callers must
// call Close when done to stop the trimmer, the signal listener, and the
// release workers.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		index:                    make(map[K]*node[K, V]),
		autoTrimInterval:         5 * time.Second,
		removeAllOnMemoryWarning: true,
		removeAllOnBackground:    true,
		releaseAsynchronously:    true,
		log:                      zerolog.Nop(),
		trimNow:                  make(chan struct{}, 1),
		releaseCh:                make(chan []released[K, V], 16),
		mainReleaseCh:            make(chan []released[K, V], 16),
		stopCh:                   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(2)
	go c.releaseWorker(c.releaseCh)
	go c.releaseWorker(c.mainReleaseCh)

	if c.autoTrimInterval > 0 {
		c.wg.Add(1)
		go c.trimLoop()
	}
	if c.signals.MemoryWarning != nil || c.signals.EnteredBackground != nil {
		c.wg.Add(1)
		go c.signalLoop()
	}
	return c
}

// Contains reports whether key is present, without affecting recency.
func (c *Cache[K, V]) Contains(key K) bool {
	var ok bool
	c.lock.With(func() {
		_, ok = c.index[key]
	})
	return ok
}

// Get returns the value for key and refreshes its recency, matching
// spec.md §4.3 ("get" moves the entry to the head exactly like update).
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var (
		val V
		ok  bool
	)
	c.lock.With(func() {
		n, found := c.index[key]
		if !found {
			return
		}
		ok = true
		n.accessTime = time.Now()
		c.lst.moveToHead(n)
		val = n.value
	})
	if ok {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	return val, ok
}

// Update inserts or overwrites key with value and an optional cost (the
// first variadic argument; omitted means zero). A new insert that crosses
// countLimit synchronously evicts the tail node before Update returns,
// per spec.md §4.3. Crossing costLimit instead dispatches an asynchronous
// trim, since cost enforcement is soft.
func (c *Cache[K, V]) Update(key K, value V, cost ...uint64) {
	var cst uint64
	if len(cost) > 0 {
		cst = cost[0]
	}

	var evicted *released[K, V]
	c.lock.With(func() {
		if n, found := c.index[key]; found {
			if cst > n.cost {
				c.lst.cost += cst - n.cost
			} else {
				c.lst.cost -= n.cost - cst
			}
			n.value = value
			n.cost = cst
			n.accessTime = time.Now()
			c.lst.moveToHead(n)
			return
		}

		n := &node[K, V]{key: key, value: value, cost: cst, accessTime: time.Now()}
		c.index[key] = n
		c.lst.insertAtHead(n)

		if c.countLimit > 0 && uint64(c.lst.count) > c.countLimit {
			if tail := c.lst.removeTail(); tail != nil {
				delete(c.index, tail.key)
				evicted = &released[K, V]{tail.key, tail.value}
				c.stats.evictions.Add(1)
			}
		}
	})
	if evicted != nil {
		c.dispatchRelease([]released[K, V]{*evicted})
	}

	if c.costLimit > 0 && c.Cost() > c.costLimit {
		select {
		case c.trimNow <- struct{}{}:
		default:
		}
	}
}

// Remove deletes key if present and reports whether it was.
func (c *Cache[K, V]) Remove(key K) bool {
	var (
		existed bool
		evicted []released[K, V]
	)
	c.lock.With(func() {
		n, ok := c.index[key]
		if !ok {
			return
		}
		existed = true
		c.lst.remove(n)
		delete(c.index, key)
		evicted = append(evicted, released[K, V]{n.key, n.value})
	})
	c.dispatchRelease(evicted)
	return existed
}

// RemoveAll clears the tier.
func (c *Cache[K, V]) RemoveAll() {
	var evicted []released[K, V]
	c.lock.With(func() {
		evicted = make([]released[K, V], 0, len(c.index))
		for k, n := range c.index {
			evicted = append(evicted, released[K, V]{k, n.value})
		}
		c.index = make(map[K]*node[K, V])
		c.lst.removeAll()
	})
	c.dispatchRelease(evicted)
}

// Count returns the number of resident entries.
func (c *Cache[K, V]) Count() uint64 {
	var n int
	c.lock.With(func() { n = c.lst.count })
	return uint64(n)
}

// Cost returns the sum of resident entries' costs.
func (c *Cache[K, V]) Cost() uint64 {
	var v uint64
	c.lock.With(func() { v = c.lst.cost })
	return v
}

// TrimToCount evicts least-recently-used entries until at most limit
// remain, using the try-lock staircase: each victim is removed under its
// own short lock acquisition so contending callers can interleave.
func (c *Cache[K, V]) TrimToCount(limit uint64) {
	c.trimBy(func() bool { return uint64(c.lst.count) <= limit })
}

// TrimToCost evicts least-recently-used entries until total cost is at
// most limit.
func (c *Cache[K, V]) TrimToCost(limit uint64) {
	c.trimBy(func() bool { return c.lst.cost <= limit })
}

// TrimOlderThan evicts entries whose last access predates now-age.
func (c *Cache[K, V]) TrimOlderThan(age time.Duration) {
	cutoff := time.Now().Add(-age)
	c.trimBy(func() bool {
		return c.lst.tail == nil || !c.lst.tail.accessTime.Before(cutoff)
	})
}

// trimBy repeatedly try-locks, checks meetsLocked (which may only inspect
// c.lst — it runs with the lock held), removes one tail victim if the
// target isn't met, and releases the lock before the next iteration.
func (c *Cache[K, V]) trimBy(meetsLocked func() bool) {
	for {
		var (
			victim *released[K, V]
			done   bool
		)
		acquired := c.lock.TryWith(func() {
			if meetsLocked() {
				done = true
				return
			}
			tail := c.lst.removeTail()
			if tail == nil {
				done = true
				return
			}
			delete(c.index, tail.key)
			victim = &released[K, V]{tail.key, tail.value}
		})
		if !acquired {
			runtime.Gosched()
			continue
		}
		if done {
			return
		}
		if victim != nil {
			c.stats.evictions.Add(1)
			c.dispatchRelease([]released[K, V]{*victim})
		}
	}
}

// dispatchRelease delivers evicted key/value pairs to onEvict according to
// the release flags. It must be called without the tier's lock held.
func (c *Cache[K, V]) dispatchRelease(batch []released[K, V]) {
	if len(batch) == 0 || c.onEvict == nil {
		return
	}
	if !c.releaseAsynchronously {
		for _, r := range batch {
			c.onEvict(r.key, r.value)
		}
		return
	}
	target := c.releaseCh
	if c.releaseOnMainThread {
		target = c.mainReleaseCh
	}
	select {
	case target <- batch:
	default:
		// Worker saturated: run inline rather than drop the hook. The
		// caller's own lock is already released by this point.
		for _, r := range batch {
			c.onEvict(r.key, r.value)
		}
	}
}

func (c *Cache[K, V]) releaseWorker(ch chan []released[K, V]) {
	defer c.wg.Done()
	for {
		select {
		case batch := <-ch:
			for _, r := range batch {
				c.onEvict(r.key, r.value)
			}
		case <-c.stopCh:
			for {
				select {
				case batch := <-ch:
					for _, r := range batch {
						c.onEvict(r.key, r.value)
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Cache[K, V]) trimLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.autoTrimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runScheduledTrims()
		case <-c.trimNow:
			if c.costLimit > 0 {
				c.TrimToCost(c.costLimit)
			}
		case <-c.stopCh:
			return
		}
	}
}

// runScheduledTrims applies cost, then count, then age limits in that
// order, matching spec.md §4.3's enumeration of the background trimmer.
func (c *Cache[K, V]) runScheduledTrims() {
	if c.costLimit > 0 {
		c.TrimToCost(c.costLimit)
	}
	if c.countLimit > 0 {
		c.TrimToCount(c.countLimit)
	}
	if c.ageLimit > 0 {
		c.TrimOlderThan(c.ageLimit)
	}
}

func (c *Cache[K, V]) signalLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.signals.MemoryWarning:
			if c.onMemoryWarning != nil {
				c.onMemoryWarning()
			}
			if c.removeAllOnMemoryWarning {
				c.RemoveAll()
			}
		case <-c.signals.EnteredBackground:
			if c.onBackground != nil {
				c.onBackground()
			}
			if c.removeAllOnBackground {
				c.RemoveAll()
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the background trimmer, the signal listener (if any), and
// the release workers, then waits for all of them to exit. Close is safe
// to call more than once.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
