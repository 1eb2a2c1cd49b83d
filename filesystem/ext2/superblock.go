package ext2

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// SuperblockOffset is where the superblock starts, whatever the block size
	SuperblockOffset = 1024
	// SuperblockSize is the on-disk size of the superblock
	SuperblockSize = 1024

	superblockSignature uint16 = 0xef53

	stateClean uint16 = 0x1

	compatHasJournal   uint32 = 0x4
	incompatRecover    uint32 = 0x4
	incompatJournalDev uint32 = 0x8
	incompatExtents    uint32 = 0x40
	incompat64Bit      uint32 = 0x80

	revOriginal           = 0
	originalInodeSize     = 128
	minGroupDescSize      = 32
	min64BitGroupDescSize = 64
	maxLogBlockSize       = 6
	goodOldFirstInode     = 11
)

// superblock holds the fields of the ext superblock the journal needs
type superblock struct {
	inodeCount          uint32
	blockCount          uint64
	firstDataBlock      uint32
	blockSize           uint32
	blocksPerGroup      uint32
	inodesPerGroup      uint32
	state               uint16
	revision            uint32
	firstInode          uint32
	inodeSize           uint16
	featureCompat       uint32
	featureIncompat     uint32
	featureROCompat     uint32
	uuid                uuid.UUID
	volumeLabel         string
	journalInode        uint32
	journalDevice       uint32
	groupDescriptorSize uint16
}

func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) != SuperblockSize {
		return nil, fmt.Errorf("cannot read superblock from %d bytes instead of expected %d", len(b), SuperblockSize)
	}
	if magic := binary.LittleEndian.Uint16(b[0x38:0x3a]); magic != superblockSignature {
		return nil, fmt.Errorf("%w: bad superblock signature 0x%x", ErrNotExt, magic)
	}

	sb := superblock{
		inodeCount:      binary.LittleEndian.Uint32(b[0x0:0x4]),
		firstDataBlock:  binary.LittleEndian.Uint32(b[0x14:0x18]),
		blocksPerGroup:  binary.LittleEndian.Uint32(b[0x20:0x24]),
		inodesPerGroup:  binary.LittleEndian.Uint32(b[0x28:0x2c]),
		state:           binary.LittleEndian.Uint16(b[0x3a:0x3c]),
		revision:        binary.LittleEndian.Uint32(b[0x4c:0x50]),
		featureCompat:   binary.LittleEndian.Uint32(b[0x5c:0x60]),
		featureIncompat: binary.LittleEndian.Uint32(b[0x60:0x64]),
		featureROCompat: binary.LittleEndian.Uint32(b[0x64:0x68]),
		volumeLabel:     strings.TrimRight(string(b[0x78:0x88]), "\x00"),
		journalInode:    binary.LittleEndian.Uint32(b[0xe0:0xe4]),
		journalDevice:   binary.LittleEndian.Uint32(b[0xe4:0xe8]),
	}
	copy(sb.uuid[:], b[0x68:0x78])

	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	if logBlockSize > maxLogBlockSize {
		return nil, fmt.Errorf("%w: block size 2^%d KiB is too large", ErrNotExt, logBlockSize)
	}
	sb.blockSize = 1024 << logBlockSize

	blockCountLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	sb.blockCount = uint64(blockCountLo)
	if sb.is64Bit() {
		sb.blockCount |= uint64(binary.LittleEndian.Uint32(b[0x150:0x154])) << 32
	}

	if sb.revision == revOriginal {
		sb.inodeSize = originalInodeSize
		sb.firstInode = goodOldFirstInode
	} else {
		sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
		sb.firstInode = binary.LittleEndian.Uint32(b[0x54:0x58])
	}
	if sb.inodeSize < originalInodeSize || sb.inodeSize&(sb.inodeSize-1) != 0 || uint32(sb.inodeSize) > sb.blockSize {
		return nil, fmt.Errorf("%w: invalid inode size %d", ErrNotExt, sb.inodeSize)
	}

	sb.groupDescriptorSize = minGroupDescSize
	if sb.is64Bit() {
		sb.groupDescriptorSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
		if sb.groupDescriptorSize < min64BitGroupDescSize || sb.groupDescriptorSize&(sb.groupDescriptorSize-1) != 0 {
			return nil, fmt.Errorf("%w: invalid group descriptor size %d for 64-bit filesystem", ErrNotExt, sb.groupDescriptorSize)
		}
	}

	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return nil, fmt.Errorf("%w: zero blocks or inodes per group", ErrNotExt)
	}
	if uint64(sb.firstDataBlock) >= sb.blockCount {
		return nil, fmt.Errorf("%w: first data block %d beyond block count %d", ErrNotExt, sb.firstDataBlock, sb.blockCount)
	}
	return &sb, nil
}

func (sb *superblock) is64Bit() bool {
	return sb.featureIncompat&incompat64Bit == incompat64Bit
}

func (sb *superblock) hasJournal() bool {
	return sb.featureCompat&compatHasJournal == compatHasJournal
}

func (sb *superblock) blockGroupCount() uint64 {
	data := sb.blockCount - uint64(sb.firstDataBlock)
	groups := data / uint64(sb.blocksPerGroup)
	if data%uint64(sb.blocksPerGroup) != 0 {
		groups++
	}
	return groups
}

// gdtBlock is the block holding the first group descriptor, the one after the superblock
func (sb *superblock) gdtBlock() uint64 {
	return uint64(sb.firstDataBlock) + 1
}
