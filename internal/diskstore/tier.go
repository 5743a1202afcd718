// Package diskstore implements the durable on-disk tier (spec.md's C4
// manifest store, C5 blob file store, and C6 disk tier): entries are
// stored either inline in a SQLite manifest row or as an external file,
// chosen by a size threshold, with LRU-style eviction driven by cost,
// count, age, and free-disk-space pressure.
package diskstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/arjunsai/duocache/internal/trylock"
)

const manifestFileName = "manifest.sqlite"

// Tier is the durable, disk-backed key-value store. All manifest and blob
// operations on a given Tier are serialized through one lock, per
// spec.md §4.6 — the manifest store itself is not safe for concurrent use.
type Tier struct {
	root string
	lock trylock.Lock

	manifest *manifest
	blobs    *blobStore

	inlineThreshold    int64
	placement          Placement
	countLimit         uint64
	costLimit          uint64
	ageLimit           time.Duration
	freeDiskSpaceLimit uint64
	autoTrimInterval   time.Duration
	customFileName     func(key string) string
	errorLogsEnabled   bool
	log                zerolog.Logger
	workerConcurrency  int64

	sem *semaphore.Weighted

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens (creating if absent) the disk tier rooted at dir. On a
// corrupt or unopenable manifest, Open attempts one full reset — closing
// any handle, deleting the manifest files, moving data/ to trash, and
// recreating directories — before retrying once. Repeated failures for
// the same path are rate-limited (spec.md §4.4).
func Open(dir string, opts ...DiskOption) (*Tier, error) {
	t := &Tier{
		root:              dir,
		inlineThreshold:   defaultInlineThreshold,
		placement:         PlacementMixed,
		autoTrimInterval:  60 * time.Second,
		log:               zerolog.Nop(),
		workerConcurrency: 4,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.workerConcurrency <= 0 {
		t.workerConcurrency = 1
	}
	t.sem = semaphore.NewWeighted(t.workerConcurrency)

	gate := gateFor(dir)
	if !gate.allow() {
		return nil, fmt.Errorf("disk tier %s: open retry limit reached, try again later", dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		gate.recordFailure()
		return nil, fmt.Errorf("create cache root %s: %w", dir, err)
	}

	if err := t.openStores(); err != nil {
		if resetErr := t.resetAndRecreate(); resetErr != nil {
			gate.recordFailure()
			return nil, fmt.Errorf("disk tier %s: reset after open failure: %w (original error: %v)", dir, resetErr, err)
		}
		if err := t.openStores(); err != nil {
			gate.recordFailure()
			return nil, fmt.Errorf("disk tier %s: open failed even after reset: %w", dir, err)
		}
	}
	gate.recordSuccess()

	// A prior unclean shutdown may have left trash/ non-empty; sweep it
	// once up front rather than waiting for an explicit remove_all.
	t.blobs.emptyTrashInBackground()

	if t.autoTrimInterval > 0 {
		t.wg.Add(1)
		go t.trimLoop()
	}
	return t, nil
}

func (t *Tier) manifestPath() string {
	return filepath.Join(t.root, manifestFileName)
}

func (t *Tier) openStores() error {
	m, err := openManifest(t.manifestPath(), t.log, t.errorLogsEnabled)
	if err != nil {
		return err
	}
	b, err := openBlobStore(t.root)
	if err != nil {
		_ = m.close()
		return err
	}
	t.manifest = m
	t.blobs = b
	return nil
}

func (t *Tier) resetAndRecreate() error {
	if t.manifest != nil {
		_ = t.manifest.close()
		t.manifest = nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(t.manifestPath() + suffix)
	}
	if t.blobs != nil {
		_ = t.blobs.moveAllToTrash()
		t.blobs.close()
		t.blobs = nil
	} else {
		trashDir := filepath.Join(t.root, "trash")
		_ = os.MkdirAll(trashDir, 0o755)
		if err := os.Rename(filepath.Join(t.root, "data"), filepath.Join(trashDir, uuid.NewString())); err != nil {
			_ = os.RemoveAll(filepath.Join(t.root, "data"))
		}
	}
	return os.MkdirAll(filepath.Join(t.root, "data"), 0o755)
}

func (t *Tier) logDebug(op string, err error) {
	if t.errorLogsEnabled {
		t.log.Debug().Err(err).Str("op", op).Msg("disk tier operation failed")
	}
}

// Contains reports whether key has a manifest row, without affecting
// last_access_time.
func (t *Tier) Contains(key string) bool {
	var ok bool
	t.lock.With(func() {
		_, ok = t.manifest.get(key, true)
	})
	return ok
}

// GetEntry fetches key's full entry, reading the backing file for
// external placement. A read failure on the backing file deletes the
// divergent manifest row and returns (nil, false) — the self-healing rule
// in spec.md §4.6.
func (t *Tier) GetEntry(key string) (*Entry, bool) {
	var (
		entry *Entry
		ok    bool
	)
	t.lock.With(func() {
		row, found := t.manifest.get(key, false)
		if !found {
			return
		}
		if row.Filename != "" {
			data, err := t.blobs.read(row.Filename)
			if err != nil {
				t.logDebug("get", err)
				t.manifest.delete(row.Key)
				return
			}
			row.Bytes = data
		}
		t.manifest.touch(key)
		entry = row
		ok = true
	})
	return entry, ok
}

// Get returns key's payload bytes.
func (t *Tier) Get(key string) ([]byte, bool) {
	entry, ok := t.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Bytes, true
}

// Set stores data under key, choosing inline or external placement per
// the tier's configured mode. Empty key or empty data is a silent no-op
// (spec.md §4.6's input-rejection rule), reported via the bool return.
func (t *Tier) Set(key string, data []byte) bool {
	return t.SetExtended(key, data, nil)
}

// SetExtended is Set plus an opaque extended-metadata byte slice threaded
// through to the manifest row's extended_data column end to end — the
// passthrough spec.md's distillation left implicit (§5 of the expanded
// spec).
func (t *Tier) SetExtended(key string, data []byte, extended []byte) bool {
	if key == "" || len(data) == 0 {
		return false
	}
	var ok bool
	t.lock.With(func() {
		external := t.wantsExternalPlacement(len(data))

		prevFilename, hadPrevFile := t.manifest.getFilename(key)

		if external {
			filename := t.deriveFilename(key)
			if err := t.blobs.write(filename, data); err != nil {
				t.logDebug("set", err)
				return
			}
			if !t.manifest.save(key, data, filename, extended) {
				_ = t.blobs.delete(filename)
				return
			}
			if hadPrevFile && prevFilename != "" && prevFilename != filename {
				_ = t.blobs.delete(prevFilename)
			}
		} else {
			if hadPrevFile && prevFilename != "" {
				_ = t.blobs.delete(prevFilename)
			}
			if !t.manifest.save(key, data, "", extended) {
				return
			}
		}
		ok = true
	})
	return ok
}

func (t *Tier) wantsExternalPlacement(size int) bool {
	switch t.placement {
	case PlacementSQLiteOnly:
		return false
	case PlacementFileOnly:
		return true
	default:
		return int64(size) > t.inlineThreshold
	}
}

// deriveFilename asks the caller's hook first; an empty result (including
// no hook at all) falls back to the default SHA-256-hex namer rather than
// failing the write (spec.md expanded §5 supplement).
func (t *Tier) deriveFilename(key string) string {
	if t.customFileName != nil {
		if name := t.customFileName(key); name != "" {
			return name
		}
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Remove deletes key's row and backing file, if any.
func (t *Tier) Remove(key string) bool {
	var ok bool
	t.lock.With(func() {
		filename, hadFile := t.manifest.getFilename(key)
		if !t.manifest.delete(key) {
			return
		}
		if hadFile && filename != "" {
			_ = t.blobs.delete(filename)
		}
		ok = true
	})
	return ok
}

// RemoveAll clears every row and moves all blobs to trash for background
// deletion.
func (t *Tier) RemoveAll() bool {
	var ok bool
	t.lock.With(func() {
		if _, err := t.manifest.db.Exec(`DELETE FROM manifest`); err != nil {
			t.logDebug("remove_all", err)
			return
		}
		t.manifest.checkpoint()
		if err := t.blobs.moveAllToTrash(); err != nil {
			t.logDebug("remove_all", err)
			return
		}
		t.blobs.emptyTrashInBackground()
		ok = true
	})
	return ok
}

// TotalCount returns the number of resident rows.
func (t *Tier) TotalCount() int64 {
	var n int64
	t.lock.With(func() { n = t.manifest.totalCount() })
	return n
}

// TotalSize returns the sum of resident rows' sizes.
func (t *Tier) TotalSize() int64 {
	var n int64
	t.lock.With(func() { n = t.manifest.totalSize() })
	return n
}

// TrimToCost evicts the oldest-accessed rows until total size is at most
// limit.
func (t *Tier) TrimToCost(limit uint64) {
	t.lock.With(func() { t.trimToCostLocked(limit) })
}

// TrimToCount evicts the oldest-accessed rows until at most limit remain.
func (t *Tier) TrimToCount(limit uint64) {
	t.lock.With(func() { t.trimToCountLocked(limit) })
}

// TrimOlderThan evicts rows whose last access predates now-age.
func (t *Tier) TrimOlderThan(age time.Duration) {
	t.lock.With(func() { t.trimOlderThanLocked(age) })
}

// trimToCostLocked and trimToCountLocked both select oldest rows in
// batches of 16, deleting each row's file (if any) then its manifest row,
// stopping when the target is met, a batch yields no rows, or a deletion
// fails — spec.md §4.6.
func (t *Tier) trimToCostLocked(limit uint64) {
	for {
		if uint64(t.manifest.totalSize()) <= limit {
			break
		}
		batch := t.manifest.listSizeInfoOldestFirst(16)
		met := func() bool { return uint64(t.manifest.totalSize()) <= limit }
		if len(batch) == 0 || !t.deleteBatchLocked(batch, met) {
			break
		}
	}
	t.manifest.checkpoint()
}

func (t *Tier) trimToCountLocked(limit uint64) {
	for {
		if uint64(t.manifest.totalCount()) <= limit {
			break
		}
		batch := t.manifest.listSizeInfoOldestFirst(16)
		met := func() bool { return uint64(t.manifest.totalCount()) <= limit }
		if len(batch) == 0 || !t.deleteBatchLocked(batch, met) {
			break
		}
	}
	t.manifest.checkpoint()
}

func (t *Tier) deleteBatchLocked(batch []sizeInfo, met func() bool) bool {
	for _, info := range batch {
		if met() {
			return true
		}
		if info.Filename != "" {
			if err := t.blobs.delete(info.Filename); err != nil {
				t.logDebug("trim", err)
				return false
			}
		}
		if !t.manifest.delete(info.Key) {
			return false
		}
	}
	return true
}

// trimOlderThanLocked deletes everything when age <= 0; otherwise it
// deletes files whose access time predates cutoff, then the rows, then
// checkpoints, per spec.md §4.6.
func (t *Tier) trimOlderThanLocked(age time.Duration) {
	if age <= 0 {
		for _, info := range t.manifest.listAll() {
			if info.Filename != "" {
				_ = t.blobs.delete(info.Filename)
			}
		}
		if _, err := t.manifest.db.Exec(`DELETE FROM manifest`); err != nil {
			t.logDebug("trim_older_than", err)
		}
		t.manifest.checkpoint()
		return
	}

	cutoff := time.Now().Add(-age).Unix()
	for _, info := range t.manifest.listOlderThan(cutoff) {
		if info.Filename != "" {
			_ = t.blobs.delete(info.Filename)
		}
	}
	t.manifest.deleteOlderThan(cutoff)
	t.manifest.checkpoint()
}

// trimByFreeDiskLocked trims to cost with a target computed from how far
// below freeDiskSpaceLimit the volume's free space currently sits.
func (t *Tier) trimByFreeDiskLocked() {
	free, err := freeBytes(t.root)
	if err != nil {
		t.logDebug("trim_by_free_disk", err)
		return
	}
	if free >= t.freeDiskSpaceLimit {
		return
	}
	needed := t.freeDiskSpaceLimit - free
	total := uint64(t.manifest.totalSize())
	var target uint64
	if total > needed {
		target = total - needed
	}
	t.trimToCostLocked(target)
}

func (t *Tier) trimLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.autoTrimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.runScheduledTrims()
		case <-t.stopCh:
			return
		}
	}
}

// runScheduledTrims acquires the lock once per tick and runs cost-,
// count-, age-, then free-disk-trim in that order, per spec.md §4.6.
func (t *Tier) runScheduledTrims() {
	t.lock.With(func() {
		if t.costLimit > 0 {
			t.trimToCostLocked(t.costLimit)
		}
		if t.countLimit > 0 {
			t.trimToCountLocked(t.countLimit)
		}
		if t.ageLimit > 0 {
			t.trimOlderThanLocked(t.ageLimit)
		}
		if t.freeDiskSpaceLimit > 0 {
			t.trimByFreeDiskLocked()
		}
	})
}

// dispatch enqueues work onto the tier's bounded worker pool and returns
// immediately — the caller is never blocked waiting for a free slot, per
// spec.md §5's "completion-based operations never block the caller". The
// semaphore acquire happens inside the spawned goroutine, so backpressure
// from a saturated pool lands on that goroutine, not on dispatch's caller;
// fail runs instead of work if ctx is cancelled before a slot frees.
func (t *Tier) dispatch(ctx context.Context, fail func(), work func()) {
	go func() {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			fail()
			return
		}
		defer t.sem.Release(1)
		work()
	}()
}

// ContainsAsync is Contains dispatched onto the worker pool.
func (t *Tier) ContainsAsync(ctx context.Context, key string, cb func(bool)) {
	t.dispatch(ctx, func() { cb(false) }, func() { cb(t.Contains(key)) })
}

// GetAsync is Get dispatched onto the worker pool.
func (t *Tier) GetAsync(ctx context.Context, key string, cb func([]byte, bool)) {
	t.dispatch(ctx, func() { cb(nil, false) }, func() {
		data, ok := t.Get(key)
		cb(data, ok)
	})
}

// SetAsync is Set dispatched onto the worker pool.
func (t *Tier) SetAsync(ctx context.Context, key string, data []byte, cb func(bool)) {
	t.dispatch(ctx, func() { cb(false) }, func() { cb(t.Set(key, data)) })
}

// RemoveAsync is Remove dispatched onto the worker pool.
func (t *Tier) RemoveAsync(ctx context.Context, key string, cb func(bool)) {
	t.dispatch(ctx, func() { cb(false) }, func() { cb(t.Remove(key)) })
}

// RemoveAllAsync is RemoveAll dispatched onto the worker pool.
func (t *Tier) RemoveAllAsync(ctx context.Context, cb func(bool)) {
	t.dispatch(ctx, func() { cb(false) }, func() { cb(t.RemoveAll()) })
}

// Close stops the background trimmer, drains the worker-pool semaphore so
// every already-dispatched *Async call has finished before either store is
// touched, and closes the manifest store and blob trash worker. Close is
// safe to call more than once. This promotes spec.md §4.6's "on
// will-terminate, close the manifest store" shutdown signal to something
// always callable, since a library can't assume a host delivers that
// signal.
func (t *Tier) Close() {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
		_ = t.sem.Acquire(context.Background(), t.workerConcurrency)
		t.lock.With(func() {
			if t.blobs != nil {
				t.blobs.close()
			}
			if t.manifest != nil {
				_ = t.manifest.close()
			}
		})
	})
}
