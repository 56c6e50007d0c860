package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/disk"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := disk.Format(path, 512, 128)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return cache.New(d, nil, 64, 50, nil)
}

func openTestSource(t *testing.T, c *cache.Cache, tag block.Tag, dir bool) *Source {
	t.Helper()
	ctx := context.Background()

	root, err := c.Alloc(ctx, 1, tag, block.Type{Kind: block.KindData, Level: 0}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, root))
	addr := root.Addr()
	c.Put(root)

	epochLow := func() uint32 { return 1 }
	src, err := Open(ctx, c, addr, tag, 0, 0, dir, OReadWrite, epochLow)
	require.NoError(t, err)
	return src
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	c := newTestCache(t)
	src := openTestSource(t, c, 10, false)
	defer src.Close()

	ctx := context.Background()
	data := []byte("hello fossil source layer")
	n, err := src.WriteAt(ctx, data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	n, err = src.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
}

func TestWriteBeyondCapacityGrowsTree(t *testing.T) {
	c := newTestCache(t)
	src := openTestSource(t, c, 11, false)
	defer src.Close()

	ctx := context.Background()
	offset := uint64(2000) // beyond a single 512-byte leaf block
	data := []byte("past the first leaf")

	_, err := src.WriteAt(ctx, data, offset)
	require.NoError(t, err)
	assert.Greater(t, src.depth, uint8(0))

	buf := make([]byte, len(data))
	n, err := src.ReadAt(ctx, buf, offset)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
}

func TestDirectoryEntryRoundTrip(t *testing.T) {
	c := newTestCache(t)
	src := openTestSource(t, c, 12, true)
	defer src.Close()

	ctx := context.Background()
	e := block.Entry{Generation: 1, DSize: 512, Depth: 0, Tag: block.Tag(99), Flags: block.EntryActive}
	require.NoError(t, src.SetEntry(ctx, 0, e))

	got, err := src.GetEntry(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, e.Tag, got.Tag)
	assert.Equal(t, e.Generation, got.Generation)
}

func TestCopyOnWriteAfterEpochAdvance(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	root, err := c.Alloc(ctx, 1, block.Tag(13), block.Type{Kind: block.KindData, Level: 0}, 0)
	require.NoError(t, err)
	copy(root.Data(), []byte("epoch one"))
	require.NoError(t, c.Write(ctx, root))
	addr := root.Addr()
	c.Put(root)

	epochLow := func() uint32 { return 1 }
	src, err := Open(ctx, c, addr, block.Tag(13), 0, 9, false, OReadWrite, epochLow)
	require.NoError(t, err)
	src.epoch = 2 // simulate a snapshot having bumped the write epoch
	defer src.Close()

	_, err = src.WriteAt(ctx, []byte("epoch two"), 0)
	require.NoError(t, err)

	buf := make([]byte, len("epoch two"))
	_, err = src.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "epoch two", string(buf))
}
