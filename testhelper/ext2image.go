package testhelper

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/diskfs/go-ext2journal/journal"
)

const (
	ext2SuperblockOffset = 1024
	ext2Magic            = 0xef53
	imageInodeSize       = 256
	imageInodesPerGroup  = 16
	extentMagic          = 0xf30a
	extentsFlag          = 0x80000
	maxExtentLength      = 32768
)

// Mapping selects how the journal inode maps its blocks
type Mapping int

const (
	MapExtents Mapping = iota
	MapIndirect
)

// Ext2Image describes a single block group ext2/3/4 image whose only allocated file is the journal
// in inode 8
type Ext2Image struct {
	BlockSize uint32
	// JournalBlocks is the size of the journal in blocks
	JournalBlocks uint32
	// JournalStart is the checkpoint recorded in the journal superblock
	JournalStart uint32
	Clean        bool
	Mapping      Mapping
	// ExtentIndex forces a depth 1 extent tree even when the extents fit in the inode
	ExtentIndex bool
	// Fragment, when non-zero, splits the journal into runs of Fragment blocks with a free block
	// between consecutive runs
	Fragment uint32
	// Bit64 uses 64 byte group descriptors
	Bit64 bool
	// JournalContents are written over the journal, keyed by journal block. A block 0 entry
	// replaces the generated journal superblock.
	JournalContents map[uint32][]byte
}

// Image is a built Ext2Image
type Image struct {
	Bytes     []byte
	BlockSize uint32
	// JournalPhysical is the filesystem block holding each journal block
	JournalPhysical []uint64
	Superblock      *journal.Superblock
}

// JournalSuperblock returns the journal superblock Build writes unless JournalContents has a
// block 0
func (e *Ext2Image) JournalSuperblock() *journal.Superblock {
	return &journal.Superblock{
		Header: journal.BlockHeader{
			Magic:     journal.Magic,
			BlockType: journal.BlockTypeFormatExtended,
		},
		BlockSize:     e.BlockSize,
		MaxBlocks:     e.JournalBlocks,
		FirstBlock:    1,
		SequenceID:    1,
		StartBlockNum: e.JournalStart,
		UUID:          uuid.MustParse("8c1b2f6e-3d4a-4b5c-9e7f-a1b2c3d4e5f6"),
		NumUsers:      1,
		TransMax:      32768,
		TransDataMax:  32768,
		ChecksumType:  journal.ChecksumTypeCRC32C,
	}
}

type blockAllocator struct {
	next uint64
}

func (a *blockAllocator) alloc() uint64 {
	b := a.next
	a.next++
	return b
}

// Build lays out and encodes the image
func (e *Ext2Image) Build() (*Image, error) {
	bs := e.BlockSize
	switch bs {
	case 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("unsupported block size %d", bs)
	}
	if e.JournalBlocks == 0 {
		return nil, errors.New("journal must have at least one block")
	}

	var firstDataBlock uint64
	if bs == 1024 {
		firstDataBlock = 1
	}
	gdtBlock := firstDataBlock + 1
	inodeTable := gdtBlock + 1
	inodeTableBlocks := uint64(imageInodesPerGroup*imageInodeSize) / uint64(bs)
	a := &blockAllocator{next: inodeTable + inodeTableBlocks}

	physical := make([]uint64, e.JournalBlocks)
	for i := range physical {
		if e.Fragment > 0 && i > 0 && uint32(i)%e.Fragment == 0 {
			a.alloc()
		}
		physical[i] = a.alloc()
	}

	// metadata blocks are only known once the mapping is built, so it is encoded into a map first
	meta := map[uint64][]byte{}
	var iblock []byte
	var err error
	switch e.Mapping {
	case MapExtents:
		iblock, err = e.buildExtents(physical, a, meta)
	case MapIndirect:
		iblock, err = e.buildIndirect(physical, a, meta)
	default:
		err = fmt.Errorf("unknown mapping %d", e.Mapping)
	}
	if err != nil {
		return nil, err
	}

	totalBlocks := a.next
	if totalBlocks > uint64(bs)*8 {
		return nil, fmt.Errorf("image needs %d blocks, more than fit in one group of %d", totalBlocks, bs*8)
	}
	img := make([]byte, totalBlocks*uint64(bs))
	block := func(n uint64) []byte {
		return img[n*uint64(bs) : (n+1)*uint64(bs)]
	}

	// superblock
	sb := img[ext2SuperblockOffset : ext2SuperblockOffset+1024]
	binary.LittleEndian.PutUint32(sb[0x0:], imageInodesPerGroup)
	binary.LittleEndian.PutUint32(sb[0x4:], uint32(totalBlocks))
	binary.LittleEndian.PutUint32(sb[0x14:], uint32(firstDataBlock))
	logBlockSize := uint32(0)
	for s := bs; s > 1024; s >>= 1 {
		logBlockSize++
	}
	binary.LittleEndian.PutUint32(sb[0x18:], logBlockSize)
	binary.LittleEndian.PutUint32(sb[0x20:], bs*8)
	binary.LittleEndian.PutUint32(sb[0x28:], imageInodesPerGroup)
	binary.LittleEndian.PutUint16(sb[0x38:], ext2Magic)
	if e.Clean {
		binary.LittleEndian.PutUint16(sb[0x3a:], 1)
	}
	binary.LittleEndian.PutUint32(sb[0x4c:], 1)
	binary.LittleEndian.PutUint32(sb[0x54:], 11)
	binary.LittleEndian.PutUint16(sb[0x58:], imageInodeSize)
	binary.LittleEndian.PutUint32(sb[0x5c:], 0x4)
	var incompat uint32
	if !e.Clean {
		incompat |= 0x4
	}
	if e.Mapping == MapExtents {
		incompat |= 0x40
	}
	descSize := 32
	if e.Bit64 {
		incompat |= 0x80
		descSize = 64
		binary.LittleEndian.PutUint16(sb[0xfe:], uint16(descSize))
	}
	binary.LittleEndian.PutUint32(sb[0x60:], incompat)
	fsUUID := uuid.MustParse("0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9")
	copy(sb[0x68:0x78], fsUUID[:])
	copy(sb[0x78:0x88], "journaltest")
	binary.LittleEndian.PutUint32(sb[0xe0:], journal.ReservedJournalInode)

	// group descriptor
	gd := block(gdtBlock)[:descSize]
	binary.LittleEndian.PutUint32(gd[0x8:], uint32(inodeTable))

	// journal inode
	ino := journal.ReservedJournalInode
	off := inodeTable*uint64(bs) + uint64(ino-1)*imageInodeSize
	in := img[off : off+imageInodeSize]
	size := uint64(e.JournalBlocks) * uint64(bs)
	binary.LittleEndian.PutUint16(in[0x0:], 0x8180)
	binary.LittleEndian.PutUint32(in[0x4:], uint32(size))
	binary.LittleEndian.PutUint16(in[0x1a:], 1)
	if e.Mapping == MapExtents {
		binary.LittleEndian.PutUint32(in[0x20:], extentsFlag)
	}
	copy(in[0x28:0x64], iblock)
	binary.LittleEndian.PutUint32(in[0x6c:], uint32(size>>32))

	for n, b := range meta {
		copy(block(n), b)
	}

	jsb := e.JournalSuperblock()
	copy(block(physical[0]), jsb.ToBytes())
	for n, b := range e.JournalContents {
		if n >= e.JournalBlocks {
			return nil, fmt.Errorf("journal block %d outside journal of %d blocks", n, e.JournalBlocks)
		}
		dst := block(physical[n])
		for i := range dst {
			dst[i] = 0
		}
		copy(dst, b)
	}

	return &Image{
		Bytes:           img,
		BlockSize:       bs,
		JournalPhysical: physical,
		Superblock:      jsb,
	}, nil
}

type extentRun struct {
	fileBlock uint32
	start     uint64
	length    uint16
}

func runs(physical []uint64) []extentRun {
	var out []extentRun
	for i, p := range physical {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.start+uint64(last.length) == p && last.length < maxExtentLength {
				last.length++
				continue
			}
		}
		out = append(out, extentRun{fileBlock: uint32(i), start: p, length: 1})
	}
	return out
}

func putExtentHeader(b []byte, entries, maxEntries, depth uint16) {
	binary.LittleEndian.PutUint16(b[0x0:], extentMagic)
	binary.LittleEndian.PutUint16(b[0x2:], entries)
	binary.LittleEndian.PutUint16(b[0x4:], maxEntries)
	binary.LittleEndian.PutUint16(b[0x6:], depth)
}

func putExtentLeaves(b []byte, rs []extentRun) {
	for i, r := range rs {
		base := 12 + i*12
		binary.LittleEndian.PutUint32(b[base:], r.fileBlock)
		binary.LittleEndian.PutUint16(b[base+4:], r.length)
		binary.LittleEndian.PutUint16(b[base+6:], uint16(r.start>>32))
		binary.LittleEndian.PutUint32(b[base+8:], uint32(r.start))
	}
}

func (e *Ext2Image) buildExtents(physical []uint64, a *blockAllocator, meta map[uint64][]byte) ([]byte, error) {
	rs := runs(physical)
	root := make([]byte, 60)
	if len(rs) <= 4 && !e.ExtentIndex {
		putExtentHeader(root, uint16(len(rs)), 4, 0)
		putExtentLeaves(root, rs)
		return root, nil
	}

	perLeaf := int(e.BlockSize-12) / 12
	if len(rs) > 4*perLeaf {
		return nil, fmt.Errorf("%d extents do not fit a depth 1 tree", len(rs))
	}
	var leaves [][]extentRun
	for len(rs) > 0 {
		n := min(perLeaf, len(rs))
		leaves = append(leaves, rs[:n])
		rs = rs[n:]
	}
	putExtentHeader(root, uint16(len(leaves)), 4, 1)
	for i, l := range leaves {
		leafBlock := a.alloc()
		b := make([]byte, e.BlockSize)
		putExtentHeader(b, uint16(len(l)), uint16(perLeaf), 0)
		putExtentLeaves(b, l)
		meta[leafBlock] = b

		base := 12 + i*12
		binary.LittleEndian.PutUint32(root[base:], l[0].fileBlock)
		binary.LittleEndian.PutUint32(root[base+4:], uint32(leafBlock))
		binary.LittleEndian.PutUint16(root[base+8:], uint16(leafBlock>>32))
	}
	return root, nil
}

func (e *Ext2Image) buildIndirect(physical []uint64, a *blockAllocator, meta map[uint64][]byte) ([]byte, error) {
	perBlock := int(e.BlockSize / 4)
	if len(physical) > 12+perBlock+perBlock*perBlock {
		return nil, errors.New("journal too large for double indirect mapping")
	}
	root := make([]byte, 60)
	pointers := func(ps []uint64) uint64 {
		n := a.alloc()
		b := make([]byte, e.BlockSize)
		for i, p := range ps {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(p))
		}
		meta[n] = b
		return n
	}

	rest := physical
	for i := 0; i < 12 && len(rest) > 0; i++ {
		binary.LittleEndian.PutUint32(root[i*4:], uint32(rest[0]))
		rest = rest[1:]
	}
	if len(rest) > 0 {
		n := min(perBlock, len(rest))
		binary.LittleEndian.PutUint32(root[12*4:], uint32(pointers(rest[:n])))
		rest = rest[n:]
	}
	if len(rest) > 0 {
		var singles []uint64
		for len(rest) > 0 {
			n := min(perBlock, len(rest))
			singles = append(singles, pointers(rest[:n]))
			rest = rest[n:]
		}
		binary.LittleEndian.PutUint32(root[13*4:], uint32(pointers(singles)))
	}
	return root, nil
}

// JournalTransaction encodes a descriptor block with one tag per target and the matching commit
// block, for a journal using sb
func JournalTransaction(sb *journal.Superblock, seq uint32, targets []uint64) (descriptor, commit []byte, err error) {
	if len(targets) == 0 {
		return nil, nil, errors.New("transaction needs at least one target")
	}
	d := &journal.DescriptorBlock{
		Header: journal.BlockHeader{Magic: journal.Magic, BlockType: journal.BlockTypeDescriptor, Sequence: seq},
	}
	for i, t := range targets {
		tag := journal.DescriptorTag{BlockNr: t, Flags: journal.TagSameUUID}
		if i == 0 {
			u := sb.UUID
			tag.Flags = 0
			tag.UUID = &u
		}
		if i == len(targets)-1 {
			tag.Flags |= journal.TagLastEntry
		}
		d.Tags = append(d.Tags, tag)
	}
	descriptor, err = d.ToBytes(sb, sb.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	c := &journal.CommitHeader{
		Header:       journal.BlockHeader{Magic: journal.Magic, BlockType: journal.BlockTypeCommit, Sequence: seq},
		ChecksumType: journal.ChecksumTypeCRC32C,
		ChecksumSize: 4,
	}
	return descriptor, c.ToBytes(sb.BlockSize), nil
}
