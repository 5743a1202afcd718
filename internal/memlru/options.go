package memlru

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Cache at construction time, the same functional
// options pattern the teacher package used for its one tunable
// (WithCleanupInterval), generalized here to the full tunable set from
// spec.md §4.3.
type Option[K comparable, V any] func(*Cache[K, V])

// WithCountLimit bounds the number of resident entries. Enforcement is a
// hard synchronous trim at the next insert past the limit (spec.md §4.3).
// Zero (the default) means unlimited.
func WithCountLimit[K comparable, V any](n uint64) Option[K, V] {
	return func(c *Cache[K, V]) { c.countLimit = n }
}

// WithCostLimit bounds the total caller-supplied cost. Enforcement is a
// single asynchronous trim dispatched after the insert that crosses the
// limit — this yields a soft bound, per spec.md §4.3. Zero means unlimited.
func WithCostLimit[K comparable, V any](c uint64) Option[K, V] {
	return func(cache *Cache[K, V]) { cache.costLimit = c }
}

// WithAgeLimit bounds how long an entry may go unaccessed before the
// background trimmer evicts it. Zero means unlimited.
func WithAgeLimit[K comparable, V any](age time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ageLimit = age }
}

// WithAutoTrimInterval sets the background trimmer tick. Default 5s,
// matching spec.md §4.3. A non-positive interval disables the trimmer
// entirely (lazy/manual trimming only).
func WithAutoTrimInterval[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.autoTrimInterval = d }
}

// WithRemoveAllOnMemoryWarning controls whether a memory-warning signal
// clears the tier. Default true.
func WithRemoveAllOnMemoryWarning[K comparable, V any](v bool) Option[K, V] {
	return func(c *Cache[K, V]) { c.removeAllOnMemoryWarning = v }
}

// WithRemoveAllOnBackground controls whether an entered-background signal
// clears the tier. Default true.
func WithRemoveAllOnBackground[K comparable, V any](v bool) Option[K, V] {
	return func(c *Cache[K, V]) { c.removeAllOnBackground = v }
}

// WithReleaseAsynchronously dispatches evicted values to a background
// goroutine rather than handing them to onEvict inline on the calling
// goroutine (after the tier's lock is released). Default true.
func WithReleaseAsynchronously[K comparable, V any](v bool) Option[K, V] {
	return func(c *Cache[K, V]) { c.releaseAsynchronously = v }
}

// WithReleaseOnMainThread routes evicted values to the single serial
// release worker instead of the general background one. Only meaningful
// together with WithReleaseAsynchronously(true). Default false.
func WithReleaseOnMainThread[K comparable, V any](v bool) Option[K, V] {
	return func(c *Cache[K, V]) { c.releaseOnMainThread = v }
}

// WithOnEvict registers a hook invoked for every value removed from the
// tier (explicit Remove, RemoveAll, capacity eviction, or a trim),
// dispatched per the release flags above. A value replaced by Update on
// an existing key is not passed to the hook. It models spec.md §4.3's "release means
// dropping the last strong reference so destructors run off the critical
// path" for values that hold real resources.
func WithOnEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// WithOnMemoryWarning registers the user hook invoked (before any
// remove-all) when a memory-warning signal arrives.
func WithOnMemoryWarning[K comparable, V any](fn func()) Option[K, V] {
	return func(c *Cache[K, V]) { c.onMemoryWarning = fn }
}

// WithOnBackground registers the user hook invoked when an
// entered-background signal arrives.
func WithOnBackground[K comparable, V any](fn func()) Option[K, V] {
	return func(c *Cache[K, V]) { c.onBackground = fn }
}

// WithSignals wires the host-lifecycle channels described in spec.md §9,
// injected via a capability interface so the tier is testable without a
// real host. Signals carries two sources, memory pressure and background
// entry; there is no process-termination channel, in this tier or in the
// disk tier, which is shut down only through its Close method. A nil
// channel in Signals is simply never selected on.
func WithSignals[K comparable, V any](s Signals) Option[K, V] {
	return func(c *Cache[K, V]) { c.signals = s }
}

// WithLogger attaches a zerolog.Logger to the tier. The tier stores it but
// none of its operations (trims, signal handling included) write to it.
// The default is zerolog.Nop().
func WithLogger[K comparable, V any](log zerolog.Logger) Option[K, V] {
	return func(c *Cache[K, V]) { c.log = log }
}

// Signals carries the host-lifecycle notification channels spec.md §4.3
// and §9 describe. A process embedding duocache provides these; duocache
// itself never originates them.
type Signals struct {
	// MemoryWarning fires on host memory pressure.
	MemoryWarning <-chan struct{}
	// EnteredBackground fires when the host process is backgrounded.
	EnteredBackground <-chan struct{}
}
