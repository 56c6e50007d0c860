package fs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivefs/fossil/pkg/disk"
	"github.com/archivefs/fossil/pkg/venti"
)

func TestArchiverWalksDirectoryEntriesAndMarksArchived(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := disk.Format(path, 8192, 64)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	cfg := testConfig(path)
	cfg.Venti.Enabled = true
	ctx := context.Background()

	mem := venti.NewMemorySession()
	f, err := Open(ctx, path, mem, cfg, nil, nil)
	require.NoError(t, err)
	defer f.Close(ctx)

	_, err = f.GetRoot().WriteAt(ctx, []byte("payload for the archiver to pick up"), 0)
	require.NoError(t, err)

	result, err := f.Snapshot(ctx, true)
	require.NoError(t, err)
	require.True(t, result.Archiving)

	require.Eventually(t, func() bool {
		return mem.Len() > 0
	}, 2*time.Second, 10*time.Millisecond, "archiver should have written at least one block")

	f.superMu.Lock()
	lastScore := f.lastScore
	f.superMu.Unlock()
	assert.NotEqual(t, [20]byte{}, [20]byte(lastScore))
}

func TestArchiverRequestReconnectIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := disk.Format(path, 8192, 16)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	cfg := testConfig(path)
	cfg.Venti.Enabled = true
	ctx := context.Background()

	mem := venti.NewMemorySession()
	f, err := Open(ctx, path, mem, cfg, nil, nil)
	require.NoError(t, err)
	defer f.Close(ctx)

	require.NotNil(t, f.archiver)
	f.archiver.RequestReconnect()
	f.archiver.RequestReconnect()
}
