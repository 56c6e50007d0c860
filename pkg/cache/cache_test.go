package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/disk"
)

func newTestDisk(t *testing.T) *disk.Disk {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := disk.Format(path, 8192, 32)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestAllocAndWrite(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	b, err := c.Alloc(ctx, 1, block.Tag(100), block.Type{Kind: block.KindData}, 0)
	require.NoError(t, err)
	copy(b.Data(), []byte("hello fossil"))

	require.NoError(t, c.Write(ctx, b))
	assert.False(t, b.dirty)

	label, err := d.ReadLabel(b.Addr())
	require.NoError(t, err)
	assert.Equal(t, block.StateAlloc, label.State)

	c.Put(b)
}

func TestGetReadRejectsFreeBlock(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, 0, 0, ModeRead)
	assert.ErrorIs(t, err, ErrBadLabel)
}

func TestGetCachesResidentBlock(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	b, err := c.Alloc(ctx, 1, block.Tag(1), block.Type{Kind: block.KindData}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, b))
	addr := b.Addr()
	c.Put(b)

	again, err := c.Get(ctx, addr, 1, ModeRead)
	require.NoError(t, err)
	assert.Same(t, b, again)
	c.Put(again)
}

func TestDependencyForcesPriorWrite(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	child, err := c.Alloc(ctx, 1, block.Tag(1), block.Type{Kind: block.KindData}, 0)
	require.NoError(t, err)
	copy(child.Data(), []byte("child"))

	parent, err := c.Alloc(ctx, 1, block.Tag(2), block.Type{Kind: block.KindDir}, 0)
	require.NoError(t, err)
	c.Dependency(parent, child, block.Score{})

	require.NoError(t, c.Write(ctx, parent))
	assert.False(t, child.dirty, "dependency must be written before its dependent")
	assert.False(t, parent.dirty)
}

func TestFlushAllDrainsDirtyBlocks(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b, err := c.Alloc(ctx, 1, block.Tag(uint32(i+1)), block.Type{Kind: block.KindData}, 0)
		require.NoError(t, err)
		c.Put(b)
	}

	require.NoError(t, c.Flush(ctx, FlushAll))
	assert.Equal(t, int64(0), c.Stats().DirtyBytes)
}

func TestEvictClean(t *testing.T) {
	d := newTestDisk(t)
	c := New(d, nil, 16, 50, nil)
	ctx := context.Background()

	b, err := c.Alloc(ctx, 1, block.Tag(1), block.Type{Kind: block.KindData}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, b))
	c.Put(b)

	evicted := c.EvictClean(ctx, 1)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, c.Stats().Resident)
}
