package ext2

import (
	"encoding/binary"
	"fmt"
)

const (
	inodeFlagExtents uint32 = 0x80000
	// iBlockSize is the size of the block map area in the inode
	iBlockSize = 60
	// direct block pointers in the block map, before the indirect ones
	directBlocks = 12
)

// inode holds what is needed to read an inode's data
type inode struct {
	number uint32
	mode   uint16
	size   uint64
	flags  uint32
	// block is i_block: an extent tree root or the direct and indirect block pointers
	block [iBlockSize]byte
}

func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	if len(b) < originalInodeSize {
		return nil, fmt.Errorf("inode %d data too short: %d bytes instead of at least %d", number, len(b), originalInodeSize)
	}
	i := inode{
		number: number,
		mode:   binary.LittleEndian.Uint16(b[0x0:0x2]),
		size:   uint64(binary.LittleEndian.Uint32(b[0x4:0x8])) | uint64(binary.LittleEndian.Uint32(b[0x6c:0x70]))<<32,
		flags:  binary.LittleEndian.Uint32(b[0x20:0x24]),
	}
	copy(i.block[:], b[0x28:0x28+iBlockSize])
	return &i, nil
}

func (i *inode) usesExtents() bool {
	return i.flags&inodeFlagExtents == inodeFlagExtents
}

// blockCount is how many filesystem blocks it takes to hold the inode's size
func (i *inode) blockCount(blockSize uint32) uint64 {
	return (i.size + uint64(blockSize) - 1) / uint64(blockSize)
}
