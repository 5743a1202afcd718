package duocache_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arjunsai/duocache"
)

// stringCodec is the simplest possible Codec[string]: the bytes are the
// value. Used across these tests instead of exercising a real
// serialization library, which spec.md §1 explicitly leaves out of scope.
type stringCodec struct{}

func (stringCodec) Marshal(v string) ([]byte, error)    { return []byte(v), nil }
func (stringCodec) Unmarshal(b []byte) (string, error) { return string(b), nil }

type uint32Codec struct{}

func (uint32Codec) Marshal(v uint32) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf, nil
}

func (uint32Codec) Unmarshal(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("want 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func TestEndToEndSetGet(t *testing.T) {
	dir := t.TempDir()
	c, err := duocache.OpenPath(dir, stringCodec{})
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Set("a", "hello"))

	val, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "hello", val)
}

func TestDiskOnlyReadThroughPromotesAfterReopen(t *testing.T) {
	dir := t.TempDir()

	c1, err := duocache.OpenPath(dir, stringCodec{})
	require.NoError(t, err)
	c1.Set("k", "ten KiB of data")
	c1.Close()

	c2, err := duocache.OpenPath(dir, stringCodec{})
	require.NoError(t, err)
	defer c2.Close()

	val, ok := c2.Get("k")
	require.True(t, ok)
	require.Equal(t, "ten KiB of data", val)
	require.EqualValues(t, 1, c2.MemoryCount())
}

func TestSetRemoveGetIsAbsentInBothTiers(t *testing.T) {
	dir := t.TempDir()
	c, err := duocache.OpenPath(dir, stringCodec{})
	require.NoError(t, err)
	defer c.Close()

	c.Set("k", "v")
	c.Remove("k")

	_, ok := c.Get("k")
	require.False(t, ok)
	require.False(t, c.Contains("k"))
}

func TestOpeningSamePathTwiceSharesDiskState(t *testing.T) {
	dir := t.TempDir()

	c1, err := duocache.OpenPath(dir, uint32Codec{})
	require.NoError(t, err)
	defer c1.Close()

	c2, err := duocache.OpenPath(dir, uint32Codec{})
	require.NoError(t, err)
	defer c2.Close()

	// c1 and c2 share one registry-backed disk tier, so a write through c1
	// that hasn't been promoted into c2's own memory tier is still visible
	// to c2 via the shared disk state.
	c1.Set("k", 42)
	val, ok := c2.Get("k")
	require.True(t, ok)
	require.EqualValues(t, 42, val)
}

func TestAsyncGetSet(t *testing.T) {
	dir := t.TempDir()
	c, err := duocache.OpenPath(dir, stringCodec{})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	setDone := make(chan bool, 1)
	c.SetAsync(ctx, "k", "async value", func(ok bool) { setDone <- ok })
	select {
	case ok := <-setDone:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SetAsync")
	}

	val, ok := c.GetSuspend(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "async value", val)
}
