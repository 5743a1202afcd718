package duocache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/arjunsai/duocache/internal/diskstore"
	"github.com/arjunsai/duocache/internal/memlru"
)

// Codec marshals and unmarshals a Cache's value type to and from bytes —
// the "serialization of user types" collaborator spec.md §1 leaves out of
// scope for the core itself.
type Codec[V any] interface {
	Marshal(V) ([]byte, error)
	Unmarshal([]byte) (V, error)
}

// Cache is the two-tier facade (spec.md's C7): one memory tier and one
// disk tier bound to a name and a root directory.
type Cache[V any] struct {
	name  string
	root  string
	mem   *memlru.Cache[string, V]
	disk  *diskstore.Tier
	codec Codec[V]
	log   zerolog.Logger
}

// Open opens a Cache rooted at the platform's per-user caches directory
// joined with name.
func Open[V any](name string, codec Codec[V], opts ...Option[V]) (*Cache[V], error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user cache directory: %w", err)
	}
	return OpenPath(filepath.Join(base, name), codec, opts...)
}

// OpenPath opens a Cache rooted at an explicit directory.
func OpenPath[V any](path string, codec Codec[V], opts ...Option[V]) (*Cache[V], error) {
	cfg := &config[V]{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(cfg)
	}

	disk, err := registryOpen(path, cfg.diskOpts...)
	if err != nil {
		return nil, fmt.Errorf("open disk tier at %s: %w", path, err)
	}

	memOpts := append([]memlru.Option[string, V]{memlru.WithLogger[string, V](cfg.log)}, cfg.memOpts...)
	mem := memlru.New[string, V](memOpts...)

	return &Cache[V]{
		name:  filepath.Base(path),
		root:  path,
		mem:   mem,
		disk:  disk,
		codec: codec,
		log:   cfg.log,
	}, nil
}

// Name returns the last path component the cache was opened with.
func (c *Cache[V]) Name() string { return c.name }

// MemoryCount returns the number of entries currently resident in the
// memory tier.
func (c *Cache[V]) MemoryCount() uint64 { return c.mem.Count() }

// MemoryStats returns the memory tier's hit/miss/eviction counters.
func (c *Cache[V]) MemoryStats() memlru.Stats { return c.mem.Stats() }

// DiskTotals returns the disk tier's resident row count and total size in
// bytes.
func (c *Cache[V]) DiskTotals() (count, size int64) {
	return c.disk.TotalCount(), c.disk.TotalSize()
}

// Contains reports whether key is present in either tier.
func (c *Cache[V]) Contains(key string) bool {
	if c.mem.Contains(key) {
		return true
	}
	return c.disk.Contains(key)
}

// Get consults memory first; on a disk hit it decodes the stored bytes
// and promotes the value into memory before returning, per spec.md §4.7.
func (c *Cache[V]) Get(key string) (V, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}

	raw, ok := c.disk.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	val, err := c.codec.Unmarshal(raw)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("duocache: decode failed")
		var zero V
		return zero, false
	}
	c.mem.Update(key, val)
	return val, true
}

// Set writes key through to memory then disk. Both must accept the value
// for the call to report success.
func (c *Cache[V]) Set(key string, value V) bool {
	c.mem.Update(key, value)
	raw, err := c.codec.Marshal(value)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("duocache: encode failed")
		return false
	}
	return c.disk.Set(key, raw)
}

// Remove removes key from both tiers.
func (c *Cache[V]) Remove(key string) bool {
	c.mem.Remove(key)
	return c.disk.Remove(key)
}

// RemoveAll clears both tiers.
func (c *Cache[V]) RemoveAll() bool {
	c.mem.RemoveAll()
	return c.disk.RemoveAll()
}

// GetAsync is Get dispatched onto the disk tier's worker pool. On a disk
// hit it re-checks memory before promoting, so a concurrently written
// fresher value in memory is never overwritten by a stale disk read
// (spec.md §4.7).
func (c *Cache[V]) GetAsync(ctx context.Context, key string, cb func(V, bool)) {
	if v, ok := c.mem.Get(key); ok {
		cb(v, true)
		return
	}
	c.disk.GetAsync(ctx, key, func(raw []byte, ok bool) {
		if !ok {
			var zero V
			cb(zero, false)
			return
		}
		val, err := c.codec.Unmarshal(raw)
		if err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("duocache: decode failed")
			var zero V
			cb(zero, false)
			return
		}
		if !c.mem.Contains(key) {
			c.mem.Update(key, val)
		}
		cb(val, true)
	})
}

// SetAsync writes through to memory synchronously, then dispatches the
// disk write onto the worker pool; cb fires once the disk leg completes.
func (c *Cache[V]) SetAsync(ctx context.Context, key string, value V, cb func(bool)) {
	c.mem.Update(key, value)
	raw, err := c.codec.Marshal(value)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("duocache: encode failed")
		cb(false)
		return
	}
	c.disk.SetAsync(ctx, key, raw, cb)
}

// RemoveAsync removes from memory synchronously, then dispatches the disk
// removal onto the worker pool.
func (c *Cache[V]) RemoveAsync(ctx context.Context, key string, cb func(bool)) {
	c.mem.Remove(key)
	c.disk.RemoveAsync(ctx, key, cb)
}

// GetSuspend wraps GetAsync in a one-shot channel, the suspendable form
// spec.md §9 describes as a wrapper over the completion form.
func (c *Cache[V]) GetSuspend(ctx context.Context, key string) (V, bool) {
	type result struct {
		val V
		ok  bool
	}
	ch := make(chan result, 1)
	c.GetAsync(ctx, key, func(v V, ok bool) { ch <- result{v, ok} })
	select {
	case r := <-ch:
		return r.val, r.ok
	case <-ctx.Done():
		var zero V
		return zero, false
	}
}

// SetSuspend wraps SetAsync in a one-shot channel.
func (c *Cache[V]) SetSuspend(ctx context.Context, key string, value V) bool {
	ch := make(chan bool, 1)
	c.SetAsync(ctx, key, value, func(ok bool) { ch <- ok })
	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Close releases this Cache's handle to its tiers: the memory tier is
// always torn down, and the disk tier's refcounted registry entry is
// closed once every Cache sharing that path has released it.
func (c *Cache[V]) Close() {
	c.mem.Close()
	registryRelease(c.root)
}
