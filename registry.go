package duocache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/arjunsai/duocache/internal/diskstore"
)

// registryEntry is a reference-counted disk tier. Go has no built-in weak
// reference the way spec.md §4.8's design calls for; a refcount dropping
// to zero on Close is the deterministic equivalent — the tier is closed
// and evicted from the table at that point rather than waiting on a
// finalizer.
type registryEntry struct {
	tier *diskstore.Tier
	refs int
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*registryEntry)
)

// registryOpen enforces one disk tier per canonical path: a live entry is
// returned (and its refcount bumped) rather than opening a second
// manifest store against the same directory, which spec.md §4.4 requires
// to stay single-writer.
func registryOpen(path string, opts ...diskstore.DiskOption) (*diskstore.Tier, error) {
	canon, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path %s: %w", path, err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if entry, ok := registry[canon]; ok {
		entry.refs++
		return entry.tier, nil
	}

	tier, err := diskstore.Open(canon, opts...)
	if err != nil {
		return nil, err
	}
	registry[canon] = &registryEntry{tier: tier, refs: 1}
	return tier, nil
}

// registryRelease drops one reference to the tier at path, closing and
// evicting it once the last caller has released it.
func registryRelease(path string) {
	canon, err := filepath.Abs(path)
	if err != nil {
		return
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	entry, ok := registry[canon]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		entry.tier.Close()
		delete(registry, canon)
	}
}
