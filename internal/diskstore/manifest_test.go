package diskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestManifest(t *testing.T) *manifest {
	t.Helper()
	m, err := openManifest(filepath.Join(t.TempDir(), "manifest.sqlite"), zerolog.Nop(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.close() })
	return m
}

func TestManifestSaveAndGet(t *testing.T) {
	m := openTestManifest(t)

	require.True(t, m.save("k", []byte("hello"), "", nil))

	entry, ok := m.get("k", false)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), entry.Bytes)
	require.Empty(t, entry.Filename)
	require.EqualValues(t, 5, entry.Size)
}

func TestManifestTouchAdvancesLastAccessTime(t *testing.T) {
	m := openTestManifest(t)
	m.save("k", []byte("v"), "", nil)

	before, _ := m.get("k", true)
	time.Sleep(1100 * time.Millisecond) // last_access_time has 1s resolution
	require.True(t, m.touch("k"))
	after, _ := m.get("k", true)

	require.True(t, after.LastAccessTime.After(before.LastAccessTime))
}

func TestManifestDeleteMany(t *testing.T) {
	m := openTestManifest(t)
	m.save("a", []byte("1"), "", nil)
	m.save("b", []byte("2"), "", nil)
	m.save("c", []byte("3"), "", nil)

	require.True(t, m.deleteMany([]string{"a", "b"}))
	require.EqualValues(t, 1, m.totalCount())
	_, ok := m.get("c", true)
	require.True(t, ok)
}

func TestManifestListSizeInfoOldestFirstOrdering(t *testing.T) {
	m := openTestManifest(t)
	m.save("first", []byte("1"), "", nil)
	time.Sleep(1100 * time.Millisecond)
	m.save("second", []byte("2"), "", nil)

	rows := m.listSizeInfoOldestFirst(10)
	require.Len(t, rows, 2)
	require.Equal(t, "first", rows[0].Key)
	require.Equal(t, "second", rows[1].Key)
}
