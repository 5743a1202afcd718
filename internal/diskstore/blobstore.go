package diskstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// blobStore is the flat directory of external blobs (spec.md §4.5): data/
// holds live files, trash/ holds doomed ones awaiting background deletion.
// Like manifest, it is not safe for concurrent use on its own — the disk
// tier serializes every call.
type blobStore struct {
	dataDir  string
	trashDir string

	trashSignal chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func openBlobStore(root string) (*blobStore, error) {
	dataDir := filepath.Join(root, "data")
	trashDir := filepath.Join(root, "trash")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return nil, fmt.Errorf("create trash directory: %w", err)
	}

	b := &blobStore{
		dataDir:     dataDir,
		trashDir:    trashDir,
		trashSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.trashWorker()
	return b, nil
}

// write stores data under filename, atomic at the file level: it writes to
// a temp file in the same directory and renames over the destination so a
// concurrent reader never observes a partial write.
func (b *blobStore) write(filename string, data []byte) error {
	tmp, err := os.CreateTemp(b.dataDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(b.dataDir, filename)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp blob into place: %w", err)
	}
	return nil
}

// read returns a blob's bytes, or a wrapped fs.ErrNotExist when absent.
func (b *blobStore) read(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dataDir, filename))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *blobStore) delete(filename string) error {
	err := os.Remove(filepath.Join(b.dataDir, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", filename, err)
	}
	return nil
}

// moveAllToTrash atomically renames data/ to a uniquely named directory
// under trash/ and recreates an empty data/, per spec.md §4.5.
func (b *blobStore) moveAllToTrash() error {
	dest := filepath.Join(b.trashDir, uuid.NewString())
	if err := os.Rename(b.dataDir, dest); err != nil {
		return fmt.Errorf("move data to trash: %w", err)
	}
	return os.MkdirAll(b.dataDir, 0o755)
}

// emptyTrashInBackground wakes the dedicated trash worker. Calls coalesce:
// if a drain is already pending, this is a no-op.
func (b *blobStore) emptyTrashInBackground() {
	select {
	case b.trashSignal <- struct{}{}:
	default:
	}
}

func (b *blobStore) trashWorker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.trashSignal:
			b.drainTrash()
		case <-b.stopCh:
			return
		}
	}
}

func (b *blobStore) drainTrash() {
	entries, err := os.ReadDir(b.trashDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(b.trashDir, e.Name())) // per entry errors are ignored, per spec.md §4.5
	}
}

func (b *blobStore) close() {
	close(b.stopCh)
	b.wg.Wait()
}
