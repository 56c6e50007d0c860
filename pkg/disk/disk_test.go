package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivefs/fossil/pkg/block"
)

func TestFormatAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")

	d, err := Format(path, 8192, 64)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, uint16(8192), d.BlockSize())
	assert.Equal(t, uint32(64), d.NumDataBlocks())
	require.NoError(t, d.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint16(8192), reopened.BlockSize())
	assert.Equal(t, uint32(64), reopened.NumDataBlocks())
}

// TestFormatHeaderMatchesLiteralLayout reproduces spec.md §8 scenario S1's
// literal header record: a 512-byte record at offset 131072 with
// magic=0x3776AE89, version=1, blockSize=8192, super=0, label=1.
//
// S1 additionally names data=33, end=1057 for its worked example; those
// two depend on the label partition's block count, which in turn depends
// on how many data blocks it was formatted with (spec.md §6 fixes the
// label record at 14 bytes but does not name the data-block count S1's
// numbers assume, and no data-block count reproduces both 33 and 1057
// under a 14-byte label packed at 8192 bytes/block). This test pins the
// header values S1 gives unconditionally (magic, version, blockSize,
// super, label) and derives data/end from Format's own rounding for an explicit data-block count instead of
// hardcoding the two that don't reduce to it.
func TestFormatHeaderMatchesLiteralLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	const dataBlocks = 1024

	d, err := Format(path, 8192, dataBlocks)
	require.NoError(t, err)
	defer d.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), HeaderOffset+HeaderSize)

	region := raw[HeaderOffset : HeaderOffset+HeaderSize]
	for i := HeaderRecordSize; i < HeaderSize; i++ {
		assert.Zero(t, region[i], "header padding byte %d must be zero", i)
	}

	h := DecodeHeader(region[:HeaderRecordSize])
	assert.Equal(t, uint32(HeaderMagic), h.Magic)
	assert.Equal(t, uint32(0x3776ae89), h.Magic)
	assert.Equal(t, uint16(1), h.Version)
	assert.Equal(t, uint16(8192), h.BlockSize)
	assert.Equal(t, uint32(0), h.SuperStart)
	assert.Equal(t, uint32(1), h.LabelStart)

	wantLabelBlocks := uint32((dataBlocks*block.LabelSize + 8192 - 1) / 8192)
	assert.Equal(t, h.LabelStart+wantLabelBlocks, h.DataStart)
	assert.Equal(t, h.DataStart+uint32(dataBlocks), h.DataEnd)

	require.Equal(t, HeaderOffset, 131072)
}

func TestOpenRejectsUnformattedImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestSuperRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := Format(path, 8192, 16)
	require.NoError(t, err)
	defer d.Close()

	s, err := d.ReadSuper()
	require.NoError(t, err)
	assert.Equal(t, uint32(SuperMagic), s.Magic)
	assert.Equal(t, uint32(1), s.EpochLow)

	s.EpochLow = 5
	s.EpochHigh = 9
	s.SetName("archive-root")
	require.NoError(t, d.WriteSuper(s))

	got, err := d.ReadSuper()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.EpochLow)
	assert.Equal(t, uint32(9), got.EpochHigh)
	assert.Equal(t, "archive-root", got.NameString())
}

func TestLabelRoundTripOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := Format(path, 8192, 4)
	require.NoError(t, err)
	defer d.Close()

	l := block.Label{Type: block.Type{Kind: block.KindDir, Level: 1}, State: block.StateAlloc, Tag: block.TagRoot, Epoch: 2}
	require.NoError(t, d.WriteLabel(0, l))

	got, err := d.ReadLabel(0)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	empty, err := d.ReadLabel(1)
	require.NoError(t, err)
	assert.Equal(t, block.State(0), empty.State)
}

func TestLabelOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := Format(path, 8192, 2)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.ReadLabel(5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := Format(path, 512, 4)
	require.NoError(t, err)
	defer d.Close()

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, d.WriteData(2, want))

	got := make([]byte, 512)
	require.NoError(t, d.ReadData(2, got))
	assert.Equal(t, want, got)
}

func TestOperationsFailAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fossil.img")
	d, err := Format(path, 512, 2)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.ReadSuper()
	assert.ErrorIs(t, err, ErrClosed)
}
