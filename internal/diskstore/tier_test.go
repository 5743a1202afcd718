package diskstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestTier(t *testing.T, opts ...DiskOption) *Tier {
	t.Helper()
	tier, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(tier.Close)
	return tier
}

func TestSetGetInlinePlacement(t *testing.T) {
	tier := openTestTier(t, WithInlineThreshold(1024))

	require.True(t, tier.Set("small", []byte("hello")))

	data, ok := tier.Get("small")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)

	entry, ok := tier.GetEntry("small")
	require.True(t, ok)
	require.Empty(t, entry.Filename)
}

func TestSetGetExternalPlacement(t *testing.T) {
	dir := t.TempDir()
	tier, err := Open(dir, WithInlineThreshold(16))
	require.NoError(t, err)
	defer tier.Close()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 0xAB
	}
	require.True(t, tier.Set("big", payload))

	sum := sha256.Sum256([]byte("big"))
	wantName := hex.EncodeToString(sum[:])

	entry, ok := tier.GetEntry("big")
	require.True(t, ok)
	require.Equal(t, wantName, entry.Filename)
	require.Equal(t, payload, entry.Bytes)

	onDisk, err := os.ReadFile(filepath.Join(dir, "data", wantName))
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
}

func TestGetSelfHealsOnMissingBlob(t *testing.T) {
	dir := t.TempDir()
	tier, err := Open(dir, WithInlineThreshold(4))
	require.NoError(t, err)
	defer tier.Close()

	require.True(t, tier.Set("k", []byte("longer than threshold")))
	filename, ok := tier.manifest.getFilename("k")
	require.True(t, ok)
	require.NoError(t, os.Remove(filepath.Join(dir, "data", filename)))

	_, found := tier.Get("k")
	require.False(t, found)
	require.False(t, tier.Contains("k"))
}

func TestRemoveDeletesBlob(t *testing.T) {
	dir := t.TempDir()
	tier, err := Open(dir, WithInlineThreshold(1))
	require.NoError(t, err)
	defer tier.Close()

	tier.Set("k", []byte("external value"))
	filename, ok := tier.manifest.getFilename("k")
	require.True(t, ok)

	require.True(t, tier.Remove("k"))
	_, err = os.Stat(filepath.Join(dir, "data", filename))
	require.True(t, os.IsNotExist(err))
}

func TestTrimToCount(t *testing.T) {
	tier := openTestTier(t)

	for _, k := range []string{"1", "2", "3", "4"} {
		tier.Set(k, []byte(k))
		time.Sleep(1100 * time.Millisecond) // last_access_time has 1s resolution
	}

	tier.TrimToCount(3)
	require.EqualValues(t, 3, tier.TotalCount())
	require.False(t, tier.Contains("1"))
	require.True(t, tier.Contains("4"))
}

func TestTrimOlderThan(t *testing.T) {
	tier := openTestTier(t)

	tier.Set("old", []byte("v"))
	// last_access_time and the cutoff both have 1s resolution, so the gap
	// must exceed the age plus one second for "old" to fall below the cutoff.
	time.Sleep(2100 * time.Millisecond)
	tier.Set("new", []byte("v"))

	tier.TrimOlderThan(500 * time.Millisecond)

	require.False(t, tier.Contains("old"))
	require.True(t, tier.Contains("new"))
}

func TestRemoveAll(t *testing.T) {
	tier := openTestTier(t)

	tier.Set("a", []byte("1"))
	tier.Set("b", []byte("2"))
	require.True(t, tier.RemoveAll())
	require.EqualValues(t, 0, tier.TotalCount())
}

func TestGetAsync(t *testing.T) {
	tier := openTestTier(t)
	tier.Set("a", []byte("value"))

	ch := make(chan []byte, 1)
	tier.GetAsync(context.Background(), "a", func(data []byte, ok bool) {
		require.True(t, ok)
		ch <- data
	})

	select {
	case data := <-ch:
		require.Equal(t, []byte("value"), data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async get")
	}
}

func TestExtendedDataPassthrough(t *testing.T) {
	tier := openTestTier(t)

	require.True(t, tier.SetExtended("k", []byte("value"), []byte("meta")))

	entry, ok := tier.GetEntry("k")
	require.True(t, ok)
	require.Equal(t, []byte("meta"), entry.Extended)
}

func TestCustomFileNameEmptyFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	tier, err := Open(dir, WithInlineThreshold(1), WithCustomFileName(func(string) string { return "" }))
	require.NoError(t, err)
	defer tier.Close()

	tier.Set("k", []byte("external"))
	sum := sha256.Sum256([]byte("k"))
	wantName := hex.EncodeToString(sum[:])

	_, err = os.Stat(filepath.Join(dir, "data", wantName))
	require.NoError(t, err)
}
