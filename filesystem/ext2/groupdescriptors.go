package ext2

import (
	"encoding/binary"
	"fmt"
)

// groupDescriptor is the part of a block group descriptor needed to find inodes
type groupDescriptor struct {
	number             uint64
	inodeTableLocation uint64
}

func groupDescriptorFromBytes(b []byte, number uint64) groupDescriptor {
	location := uint64(binary.LittleEndian.Uint32(b[0x8:0xc]))
	if len(b) >= min64BitGroupDescSize {
		location |= uint64(binary.LittleEndian.Uint32(b[0x28:0x2c])) << 32
	}
	return groupDescriptor{
		number:             number,
		inodeTableLocation: location,
	}
}

func groupDescriptorsFromBytes(b []byte, size uint16, count uint64) ([]groupDescriptor, error) {
	need := uint64(size) * count
	if uint64(len(b)) < need {
		return nil, fmt.Errorf("cannot read %d group descriptors of %d bytes from %d bytes", count, size, len(b))
	}
	gds := make([]groupDescriptor, 0, count)
	for i := uint64(0); i < count; i++ {
		start := i * uint64(size)
		gds = append(gds, groupDescriptorFromBytes(b[start:start+uint64(size)], i))
	}
	return gds, nil
}
