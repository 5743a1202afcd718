package duocache

import (
	"github.com/rs/zerolog"

	"github.com/arjunsai/duocache/internal/diskstore"
	"github.com/arjunsai/duocache/internal/memlru"
)

// config collects the tunables threaded down to the memory tier, the disk
// tier, and the facade itself.
type config[V any] struct {
	memOpts  []memlru.Option[string, V]
	diskOpts []diskstore.DiskOption
	log      zerolog.Logger
}

// Option configures a Cache at Open/OpenPath time.
type Option[V any] func(*config[V])

// WithMemoryOptions forwards options to the underlying memory tier (e.g.
// memlru.WithCountLimit, memlru.WithCostLimit).
func WithMemoryOptions[V any](opts ...memlru.Option[string, V]) Option[V] {
	return func(c *config[V]) { c.memOpts = append(c.memOpts, opts...) }
}

// WithDiskOptions forwards options to the underlying disk tier (e.g.
// diskstore.WithInlineThreshold, diskstore.WithCostLimit).
func WithDiskOptions[V any](opts ...diskstore.DiskOption) Option[V] {
	return func(c *config[V]) { c.diskOpts = append(c.diskOpts, opts...) }
}

// WithLogger attaches a zerolog.Logger used by the facade itself (codec
// failures). It is also handed to the memory tier unless overridden via
// WithMemoryOptions; the memory tier does not write to it.
func WithLogger[V any](log zerolog.Logger) Option[V] {
	return func(c *config[V]) { c.log = log }
}
