// Package disk implements raw access to the partitioned block device that
// backs the archive file system: a fixed Header, a Super-block, a parallel
// Label array, and the Data partition itself. The whole image is mapped
// into memory once with golang.org/x/sys/unix, the same way the teacher
// memory-maps its write-ahead log, so reading or writing a block never
// costs a syscall on the hot path.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/archivefs/fossil/pkg/block"
)

// HeaderOffset is the fixed byte offset of the Header within the image,
// chosen to leave room for a boot sector the way the original layout does.
const HeaderOffset = 131072

// HeaderMagic identifies a formatted image.
const HeaderMagic = 0x3776ae89

// SuperMagic identifies a valid superblock.
const SuperMagic = 0x2340a3b1

// HeaderRecordSize is the byte-exact size of the encoded Header fields.
const HeaderRecordSize = 4 + 2 + 2 + 4 + 4 + 4 + 4

// HeaderSize is the space the Header record occupies on disk: a fixed
// 512 bytes, padded beyond HeaderRecordSize, so partition offsets never
// shift if the record gains a field. Every other partition's base offset
// is computed from HeaderOffset+HeaderSize, never from HeaderRecordSize.
const HeaderSize = 512

// SuperSize is the byte-exact size of the encoded Super record.
const SuperSize = 4 + 2 + 4 + 4 + 8 + 4 + 4 + 4 + block.ScoreSize + 128

var (
	// ErrNotFormatted is returned by Open when the image has no valid Header.
	ErrNotFormatted = errors.New("disk: image is not formatted")
	// ErrBadSuper is returned when the superblock fails its magic check.
	ErrBadSuper = errors.New("disk: bad superblock")
	// ErrClosed is returned by any operation on a closed Disk.
	ErrClosed = errors.New("disk: closed")
	// ErrOutOfRange is returned when an address falls outside its partition.
	ErrOutOfRange = errors.New("disk: address out of range")
)

// Header describes the fixed partition layout of a formatted image. It is
// written once at HeaderOffset by Format and never moves again.
type Header struct {
	Magic       uint32
	Version     uint16
	BlockSize   uint16
	SuperStart  uint32 // block address, partition PartSuper
	LabelStart  uint32 // block address, partition PartLabel
	DataStart   uint32 // block address, partition PartData
	DataEnd     uint32 // one past the last valid data block address
}

// Encode writes the header's byte-exact on-disk representation into the
// first HeaderRecordSize bytes of buf; buf must be at least that long
// (callers writing the full 512-byte on-disk region pass a larger,
// zero-padded buffer).
func (h Header) Encode(buf []byte) {
	_ = buf[HeaderRecordSize-1]
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.BlockSize)
	binary.BigEndian.PutUint32(buf[8:12], h.SuperStart)
	binary.BigEndian.PutUint32(buf[12:16], h.LabelStart)
	binary.BigEndian.PutUint32(buf[16:20], h.DataStart)
	binary.BigEndian.PutUint32(buf[20:24], h.DataEnd)
}

// DecodeHeader parses a byte-exact on-disk header record from the first
// HeaderRecordSize bytes of buf.
func DecodeHeader(buf []byte) Header {
	_ = buf[HeaderRecordSize-1]
	return Header{
		Magic:      binary.BigEndian.Uint32(buf[0:4]),
		Version:    binary.BigEndian.Uint16(buf[4:6]),
		BlockSize:  binary.BigEndian.Uint16(buf[6:8]),
		SuperStart: binary.BigEndian.Uint32(buf[8:12]),
		LabelStart: binary.BigEndian.Uint32(buf[12:16]),
		DataStart:  binary.BigEndian.Uint32(buf[16:20]),
		DataEnd:    binary.BigEndian.Uint32(buf[20:24]),
	}
}

// Super is the file system's superblock: epoch watermarks, the root
// directory's qid allocator, and the score of the last completed archive.
type Super struct {
	Magic     uint32
	Version   uint16
	EpochLow  uint32
	EpochHigh uint32
	QidNext   uint64
	Active    uint32 // tag of the active root source
	Next      uint32 // tag of the in-progress snapshot root, 0 if none
	Current   uint32 // tag of the most recently archived root
	Last      block.Score
	Name      [128]byte
}

// Encode writes the superblock's byte-exact on-disk representation.
func (s Super) Encode(buf []byte) {
	_ = buf[SuperSize-1]
	binary.BigEndian.PutUint32(buf[0:4], s.Magic)
	binary.BigEndian.PutUint16(buf[4:6], s.Version)
	binary.BigEndian.PutUint32(buf[6:10], s.EpochLow)
	binary.BigEndian.PutUint32(buf[10:14], s.EpochHigh)
	binary.BigEndian.PutUint64(buf[14:22], s.QidNext)
	binary.BigEndian.PutUint32(buf[22:26], s.Active)
	binary.BigEndian.PutUint32(buf[26:30], s.Next)
	binary.BigEndian.PutUint32(buf[30:34], s.Current)
	off := 34
	copy(buf[off:off+block.ScoreSize], s.Last[:])
	off += block.ScoreSize
	copy(buf[off:off+128], s.Name[:])
}

// DecodeSuper parses a byte-exact on-disk superblock record.
func DecodeSuper(buf []byte) Super {
	_ = buf[SuperSize-1]
	var s Super
	s.Magic = binary.BigEndian.Uint32(buf[0:4])
	s.Version = binary.BigEndian.Uint16(buf[4:6])
	s.EpochLow = binary.BigEndian.Uint32(buf[6:10])
	s.EpochHigh = binary.BigEndian.Uint32(buf[10:14])
	s.QidNext = binary.BigEndian.Uint64(buf[14:22])
	s.Active = binary.BigEndian.Uint32(buf[22:26])
	s.Next = binary.BigEndian.Uint32(buf[26:30])
	s.Current = binary.BigEndian.Uint32(buf[30:34])
	off := 34
	copy(s.Last[:], buf[off:off+block.ScoreSize])
	off += block.ScoreSize
	copy(s.Name[:], buf[off:off+128])
	return s
}

// SetName stores a UTF-8 name in the fixed-width Name field, truncating if
// it does not fit.
func (s *Super) SetName(name string) {
	n := copy(s.Name[:], name)
	for i := n; i < len(s.Name); i++ {
		s.Name[i] = 0
	}
}

// NameString returns the superblock's name as a Go string, trimmed at the first
// NUL byte.
func (s Super) NameString() string {
	for i, b := range s.Name {
		if b == 0 {
			return string(s.Name[:i])
		}
	}
	return string(s.Name[:])
}

// Disk is a memory-mapped partitioned block image: a Header, one Super
// block, a Label partition, and a Data partition.
type Disk struct {
	mu     sync.RWMutex
	file   *os.File
	data   []byte // the full mmap'd image
	header Header
	closed bool
}

// Format creates a new image file of the requested data-block count and
// writes an initial Header, an empty Super, and a fully-free Label array.
func Format(path string, blockSize uint16, dataBlocks uint32) (*Disk, error) {
	labelBlocks := dataBlocks // one label record maps to exactly one data block
	labelBytesPerDataBlock := uint32(block.LabelSize)
	labelBytes := labelBlocks * labelBytesPerDataBlock
	labelBlocksRounded := (labelBytes + uint32(blockSize) - 1) / uint32(blockSize)

	superStart := uint32(0)
	labelStart := superStart + 1
	dataStart := labelStart + labelBlocksRounded
	dataEnd := dataStart + dataBlocks

	totalSize := int64(HeaderOffset) + int64(HeaderSize) + int64(dataEnd)*int64(blockSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: create image: %w", err)
	}
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: truncate image: %w", err)
	}

	d, err := mapFile(f, totalSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	d.header = Header{
		Magic:      HeaderMagic,
		Version:    1,
		BlockSize:  blockSize,
		SuperStart: superStart,
		LabelStart: labelStart,
		DataStart:  dataStart,
		DataEnd:    dataEnd,
	}
	d.writeHeaderLocked()

	var zero [block.LabelSize]byte
	for a := uint32(0); a < dataBlocks; a++ {
		if err := d.writeLabelLocked(block.Addr(a), zero[:]); err != nil {
			d.Close()
			return nil, err
		}
	}

	super := Super{Magic: SuperMagic, Version: 1, EpochLow: 1, EpochHigh: 1, QidNext: 2, Active: uint32(block.TagRoot)}
	if err := d.WriteSuper(super); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

// Open memory-maps an existing image and validates its Header.
func Open(path string) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("disk: open image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	d, err := mapFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	if len(d.data) < HeaderOffset+HeaderSize {
		d.Close()
		return nil, ErrNotFormatted
	}
	d.header = DecodeHeader(d.data[HeaderOffset : HeaderOffset+HeaderSize])
	if d.header.Magic != HeaderMagic {
		d.Close()
		return nil, ErrNotFormatted
	}

	return d, nil
}

func mapFile(f *os.File, size int64) (*Disk, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("disk: mmap: %w", err)
	}
	return &Disk{file: f, data: data}, nil
}

// Close unmaps and closes the image file.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.data != nil {
		if uerr := unix.Msync(d.data, unix.MS_SYNC); uerr != nil {
			err = uerr
		}
		if uerr := unix.Munmap(d.data); uerr != nil && err == nil {
			err = uerr
		}
	}
	if cerr := d.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// BlockSize returns the image's configured block size.
func (d *Disk) BlockSize() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.header.BlockSize
}

// writeHeaderLocked encodes the header into the first HeaderRecordSize
// bytes of its reserved HeaderSize-byte region, zeroing the padding so a
// reformat never leaves stale bytes from a previous, larger header.
func (d *Disk) writeHeaderLocked() {
	region := d.data[HeaderOffset : HeaderOffset+HeaderSize]
	for i := range region {
		region[i] = 0
	}
	d.header.Encode(region[:HeaderRecordSize])
}

// partitionBase returns the byte offset of block 0 of the partition whose
// first block address is partStart.
func (d *Disk) partitionBase(partStart uint32) int64 {
	return int64(HeaderOffset) + int64(HeaderSize) + int64(partStart)*int64(d.header.BlockSize)
}

func (d *Disk) dataOffset(addr block.Addr) int64 {
	return d.partitionBase(d.header.DataStart) + int64(addr)*int64(d.header.BlockSize)
}

func (d *Disk) labelOffset(addr block.Addr) int64 {
	// Labels are packed tightly (LabelSize bytes each) starting at the
	// base of the label partition, not block-aligned.
	return d.partitionBase(d.header.LabelStart) + int64(addr)*int64(block.LabelSize)
}

func (d *Disk) superOffset() int64 {
	return d.partitionBase(d.header.SuperStart)
}

// ReadSuper reads and validates the superblock.
func (d *Disk) ReadSuper() (Super, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return Super{}, ErrClosed
	}

	off := d.superOffset()
	buf := d.data[off : off+SuperSize]
	s := DecodeSuper(buf)
	if s.Magic != SuperMagic {
		return Super{}, ErrBadSuper
	}
	return s, nil
}

// WriteSuper writes the superblock, stamping it with SuperMagic.
func (d *Disk) WriteSuper(s Super) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	s.Magic = SuperMagic
	off := d.superOffset()
	buf := make([]byte, SuperSize)
	s.Encode(buf)
	copy(d.data[off:off+SuperSize], buf)
	return nil
}

// ReadLabel reads the label record for a data block address.
func (d *Disk) ReadLabel(addr block.Addr) (block.Label, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return block.Label{}, ErrClosed
	}
	if uint32(addr) >= d.header.DataEnd-d.header.DataStart {
		return block.Label{}, ErrOutOfRange
	}
	off := d.labelOffset(addr)
	return block.DecodeLabel(d.data[off : off+block.LabelSize]), nil
}

// WriteLabel writes the label record for a data block address.
func (d *Disk) WriteLabel(addr block.Addr, l block.Label) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if uint32(addr) >= d.header.DataEnd-d.header.DataStart {
		return ErrOutOfRange
	}
	buf := make([]byte, block.LabelSize)
	l.Encode(buf)
	return d.writeLabelLocked(addr, buf)
}

func (d *Disk) writeLabelLocked(addr block.Addr, buf []byte) error {
	off := d.labelOffset(addr)
	copy(d.data[off:off+block.LabelSize], buf)
	return nil
}

// ReadData reads a full data block's contents into buf, which must be
// exactly BlockSize bytes.
func (d *Disk) ReadData(addr block.Addr, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if uint32(addr) >= d.header.DataEnd-d.header.DataStart {
		return ErrOutOfRange
	}
	off := d.dataOffset(addr)
	copy(buf, d.data[off:off+int64(d.header.BlockSize)])
	return nil
}

// WriteData writes a full data block's contents from buf, which must be
// exactly BlockSize bytes.
func (d *Disk) WriteData(addr block.Addr, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if uint32(addr) >= d.header.DataEnd-d.header.DataStart {
		return ErrOutOfRange
	}
	off := d.dataOffset(addr)
	copy(d.data[off:off+int64(d.header.BlockSize)], buf)
	return nil
}

// NumDataBlocks returns the number of addressable blocks in the data partition.
func (d *Disk) NumDataBlocks() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.header.DataEnd - d.header.DataStart
}

// Sync flushes mapped pages to the backing file.
func (d *Disk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return unix.Msync(d.data, unix.MS_SYNC)
}
