package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// BlockType identifies the kind of a journal block, stored in every block header.
type BlockType uint32

const (
	BlockTypeDescriptor     BlockType = 1
	BlockTypeCommit         BlockType = 2
	BlockTypeFormatBasic    BlockType = 3
	BlockTypeFormatExtended BlockType = 4
	BlockTypeRevoke         BlockType = 5
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeDescriptor:
		return "descriptor"
	case BlockTypeCommit:
		return "commit"
	case BlockTypeFormatBasic:
		return "superblock-v1"
	case BlockTypeFormatExtended:
		return "superblock-v2"
	case BlockTypeRevoke:
		return "revoke"
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// TagFlag is the flag set of a descriptor tag
type TagFlag uint16

const (
	TagEscaped   TagFlag = 0x1
	TagSameUUID  TagFlag = 0x2
	TagDeleted   TagFlag = 0x4
	TagLastEntry TagFlag = 0x8
)

const (
	// Magic is present at offset 0 of every trusted journal block
	Magic uint32 = 0xC03B3998

	// HeaderSize is the size of the common block header
	HeaderSize = 12
	// SuperblockSize is the on-disk size of the journal superblock
	SuperblockSize = 1024
	// CommitHeaderSize covers the header, checksum area and timestamp of a commit block
	CommitHeaderSize = 0x3c
	// RevokeHeaderSize covers the header and the size field of a revoke block
	RevokeHeaderSize = 0x10

	// Feature flags
	FeatureCompatChecksum      uint32 = 0x1
	FeatureIncompatRevoke      uint32 = 0x1
	FeatureIncompat64Bit       uint32 = 0x2
	FeatureIncompatAsyncCommit uint32 = 0x4
	FeatureIncompatChecksumV2  uint32 = 0x8
	FeatureIncompatChecksumV3  uint32 = 0x10
	FeatureIncompatFastCommit  uint32 = 0x20

	// Checksum types
	ChecksumTypeCRC32  uint8 = 1
	ChecksumTypeMD5    uint8 = 2
	ChecksumTypeSHA1   uint8 = 3
	ChecksumTypeCRC32C uint8 = 4

	uuidSize           = 16
	descriptorTailSize = 4
	commitChecksumSize = 32
	usersSize          = SuperblockSize - 0x100
)

// BlockHeader is the 12-byte header found at the start of every journal block
type BlockHeader struct {
	Magic     uint32
	BlockType BlockType
	Sequence  uint32
}

// Valid reports whether the header carries the journal magic
func (h BlockHeader) Valid() bool {
	return h.Magic == Magic
}

// BlockHeaderFromBytes decodes a block header. It does not check the magic.
func BlockHeaderFromBytes(b []byte) (BlockHeader, error) {
	if len(b) < HeaderSize {
		return BlockHeader{}, fmt.Errorf("cannot read journal header from %d bytes, need at least %d", len(b), HeaderSize)
	}
	return BlockHeader{
		Magic:     binary.BigEndian.Uint32(b[0x0:0x4]),
		BlockType: BlockType(binary.BigEndian.Uint32(b[0x4:0x8])),
		Sequence:  binary.BigEndian.Uint32(b[0x8:0xc]),
	}, nil
}

// ToBytes encodes the header into 12 bytes
func (h BlockHeader) ToBytes() []byte {
	b := make([]byte, HeaderSize)
	h.put(b)
	return b
}

func (h BlockHeader) put(b []byte) {
	binary.BigEndian.PutUint32(b[0x0:0x4], h.Magic)
	binary.BigEndian.PutUint32(b[0x4:0x8], uint32(h.BlockType))
	binary.BigEndian.PutUint32(b[0x8:0xc], h.Sequence)
}

// Superblock is the decoded, host-order journal superblock found at block 0 of the journal
type Superblock struct {
	Header            BlockHeader
	BlockSize         uint32
	MaxBlocks         uint32
	FirstBlock        uint32
	SequenceID        uint32
	StartBlockNum     uint32
	Errno             int32
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              uuid.UUID
	NumUsers          uint32
	DynamicSuperblock uint32
	TransMax          uint32
	TransDataMax      uint32
	ChecksumType      uint8
	NumFCBlocks       uint32
	Head              uint32
	Checksum          uint32
	// Users holds the 16-byte ids of filesystems sharing the journal, kept as-is
	Users [usersSize]byte
}

// SuperblockFromBytes decodes a journal superblock. Validation of the magic and
// block type is left to the caller.
func SuperblockFromBytes(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, fmt.Errorf("cannot read journal superblock from %d bytes, expected %d", len(b), SuperblockSize)
	}
	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return nil, err
	}
	sb := &Superblock{
		Header:            header,
		BlockSize:         binary.BigEndian.Uint32(b[0xc:0x10]),
		MaxBlocks:         binary.BigEndian.Uint32(b[0x10:0x14]),
		FirstBlock:        binary.BigEndian.Uint32(b[0x14:0x18]),
		SequenceID:        binary.BigEndian.Uint32(b[0x18:0x1c]),
		StartBlockNum:     binary.BigEndian.Uint32(b[0x1c:0x20]),
		Errno:             int32(binary.BigEndian.Uint32(b[0x20:0x24])),
		FeatureCompat:     binary.BigEndian.Uint32(b[0x24:0x28]),
		FeatureIncompat:   binary.BigEndian.Uint32(b[0x28:0x2c]),
		FeatureROCompat:   binary.BigEndian.Uint32(b[0x2c:0x30]),
		NumUsers:          binary.BigEndian.Uint32(b[0x40:0x44]),
		DynamicSuperblock: binary.BigEndian.Uint32(b[0x44:0x48]),
		TransMax:          binary.BigEndian.Uint32(b[0x48:0x4c]),
		TransDataMax:      binary.BigEndian.Uint32(b[0x4c:0x50]),
		ChecksumType:      b[0x50],
		// 3 bytes padding at 0x51:0x54
		NumFCBlocks: binary.BigEndian.Uint32(b[0x54:0x58]),
		Head:        binary.BigEndian.Uint32(b[0x58:0x5c]),
		// padding at 0x5c:0xfc
		Checksum: binary.BigEndian.Uint32(b[0xfc:0x100]),
	}
	copy(sb.UUID[:], b[0x30:0x40])
	copy(sb.Users[:], b[0x100:SuperblockSize])
	return sb, nil
}

// ToBytes encodes the superblock into SuperblockSize bytes. The checksum is written as stored,
// never recomputed.
func (sb *Superblock) ToBytes() []byte {
	b := make([]byte, SuperblockSize)
	sb.Header.put(b)

	binary.BigEndian.PutUint32(b[0xc:0x10], sb.BlockSize)
	binary.BigEndian.PutUint32(b[0x10:0x14], sb.MaxBlocks)
	binary.BigEndian.PutUint32(b[0x14:0x18], sb.FirstBlock)
	binary.BigEndian.PutUint32(b[0x18:0x1c], sb.SequenceID)
	binary.BigEndian.PutUint32(b[0x1c:0x20], sb.StartBlockNum)
	binary.BigEndian.PutUint32(b[0x20:0x24], uint32(sb.Errno))
	binary.BigEndian.PutUint32(b[0x24:0x28], sb.FeatureCompat)
	binary.BigEndian.PutUint32(b[0x28:0x2c], sb.FeatureIncompat)
	binary.BigEndian.PutUint32(b[0x2c:0x30], sb.FeatureROCompat)
	copy(b[0x30:0x40], sb.UUID[:])
	binary.BigEndian.PutUint32(b[0x40:0x44], sb.NumUsers)
	binary.BigEndian.PutUint32(b[0x44:0x48], sb.DynamicSuperblock)
	binary.BigEndian.PutUint32(b[0x48:0x4c], sb.TransMax)
	binary.BigEndian.PutUint32(b[0x4c:0x50], sb.TransDataMax)
	b[0x50] = sb.ChecksumType
	binary.BigEndian.PutUint32(b[0x54:0x58], sb.NumFCBlocks)
	binary.BigEndian.PutUint32(b[0x58:0x5c], sb.Head)
	binary.BigEndian.PutUint32(b[0xfc:0x100], sb.Checksum)
	copy(b[0x100:SuperblockSize], sb.Users[:])
	return b
}

// Has64Bit reports whether descriptor tags carry the high 32 bits of the block number
func (sb *Superblock) Has64Bit() bool {
	return sb.FeatureIncompat&FeatureIncompat64Bit != 0
}

// HasChecksumV2 reports whether tags carry a checksum field and descriptors carry a tail
func (sb *Superblock) HasChecksumV2() bool {
	return sb.FeatureIncompat&FeatureIncompatChecksumV2 != 0
}

// TagStride is the fixed part of every descriptor tag, not counting an inline UUID
func (sb *Superblock) TagStride() int {
	stride := 12
	if sb.Has64Bit() {
		stride += 4
	}
	if sb.HasChecksumV2() {
		stride += 2
	}
	return stride
}

// DescriptorTag describes one data block of a transaction
type DescriptorTag struct {
	BlockNr  uint64
	Checksum uint16
	Flags    TagFlag
	// UUID is only present on disk when TagSameUUID is not set
	UUID *uuid.UUID
}

// Has reports whether the tag carries all of the given flags
func (t DescriptorTag) Has(f TagFlag) bool {
	return t.Flags&f == f
}

// DescriptorTagFromBytes decodes the fixed part of a tag. The inline UUID that may follow is not read.
func DescriptorTagFromBytes(b []byte, sb *Superblock) (DescriptorTag, error) {
	need := 8
	if sb.Has64Bit() {
		need = 12
	}
	if len(b) < need {
		return DescriptorTag{}, fmt.Errorf("not enough bytes for descriptor tag: have %d, need %d", len(b), need)
	}
	tag := DescriptorTag{
		BlockNr:  uint64(binary.BigEndian.Uint32(b[0x0:0x4])),
		Checksum: binary.BigEndian.Uint16(b[0x4:0x6]),
		Flags:    TagFlag(binary.BigEndian.Uint16(b[0x6:0x8])),
	}
	if sb.Has64Bit() {
		tag.BlockNr |= uint64(binary.BigEndian.Uint32(b[0x8:0xc])) << 32
	}
	return tag, nil
}

// ToBytes encodes the tag at the superblock's stride, followed by a 16-byte UUID when TagSameUUID is not set
func (t DescriptorTag) ToBytes(sb *Superblock) []byte {
	size := sb.TagStride()
	if !t.Has(TagSameUUID) {
		size += uuidSize
	}
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b[0x0:0x4], uint32(t.BlockNr))
	binary.BigEndian.PutUint16(b[0x4:0x6], t.Checksum)
	binary.BigEndian.PutUint16(b[0x6:0x8], uint16(t.Flags))
	if sb.Has64Bit() {
		binary.BigEndian.PutUint32(b[0x8:0xc], uint32(t.BlockNr>>32))
	}
	if !t.Has(TagSameUUID) && t.UUID != nil {
		copy(b[sb.TagStride():], t.UUID[:])
	}
	return b
}

// DescriptorBlock is a descriptor header with its tag list
type DescriptorBlock struct {
	Header BlockHeader
	Tags   []DescriptorTag
}

// ToBytes packs the tags tightly after the header. The flags are written exactly as given,
// so a caller building a valid block must set TagLastEntry on the final tag.
func (d *DescriptorBlock) ToBytes(sb *Superblock, blockSize uint32) ([]byte, error) {
	b := make([]byte, blockSize)
	d.Header.put(b)
	usable := len(b)
	if sb.HasChecksumV2() {
		usable -= descriptorTailSize
	}
	offset := HeaderSize
	for i, tag := range d.Tags {
		tb := tag.ToBytes(sb)
		if offset+len(tb) > usable {
			return nil, fmt.Errorf("tag %d of %d does not fit in a %d byte descriptor block", i, len(d.Tags), blockSize)
		}
		copy(b[offset:], tb)
		offset += len(tb)
	}
	return b, nil
}

// CommitHeader terminates a committed transaction
type CommitHeader struct {
	Header       BlockHeader
	ChecksumType uint8
	ChecksumSize uint8
	Checksum     [commitChecksumSize]byte
	CommitSec    uint64
	CommitNsec   uint32
}

// CommitHeaderFromBytes decodes a commit block header. It does not check the magic or type.
func CommitHeaderFromBytes(b []byte) (*CommitHeader, error) {
	if len(b) < CommitHeaderSize {
		return nil, fmt.Errorf("cannot read commit block from %d bytes, need at least %d", len(b), CommitHeaderSize)
	}
	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return nil, err
	}
	c := &CommitHeader{
		Header:       header,
		ChecksumType: b[0xc],
		ChecksumSize: b[0xd],
		// 2 bytes padding at 0xe:0x10
		CommitSec:  binary.BigEndian.Uint64(b[0x30:0x38]),
		CommitNsec: binary.BigEndian.Uint32(b[0x38:0x3c]),
	}
	copy(c.Checksum[:], b[0x10:0x30])
	return c, nil
}

// ToBytes encodes the commit header into a block of blockSize bytes
func (c *CommitHeader) ToBytes(blockSize uint32) []byte {
	if blockSize < CommitHeaderSize {
		blockSize = CommitHeaderSize
	}
	b := make([]byte, blockSize)
	c.Header.put(b)
	b[0xc] = c.ChecksumType
	b[0xd] = c.ChecksumSize
	copy(b[0x10:0x30], c.Checksum[:])
	binary.BigEndian.PutUint64(b[0x30:0x38], c.CommitSec)
	binary.BigEndian.PutUint32(b[0x38:0x3c], c.CommitNsec)
	return b
}

// RevokeHeader starts a revoke block. Size is the number of bytes used in the block, records
// following the header are not decoded.
type RevokeHeader struct {
	Header BlockHeader
	Size   uint32
}

// RevokeHeaderFromBytes decodes a revoke block header. It does not check the magic or type.
func RevokeHeaderFromBytes(b []byte) (*RevokeHeader, error) {
	if len(b) < RevokeHeaderSize {
		return nil, fmt.Errorf("cannot read revoke block from %d bytes, need at least %d", len(b), RevokeHeaderSize)
	}
	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return nil, err
	}
	return &RevokeHeader{
		Header: header,
		Size:   binary.BigEndian.Uint32(b[0xc:0x10]),
	}, nil
}

// ToBytes encodes the revoke header into a block of blockSize bytes
func (r *RevokeHeader) ToBytes(blockSize uint32) []byte {
	if blockSize < RevokeHeaderSize {
		blockSize = RevokeHeaderSize
	}
	b := make([]byte, blockSize)
	r.Header.put(b)
	binary.BigEndian.PutUint32(b[0xc:0x10], r.Size)
	return b
}
