package ext2

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	extentTreeMaxDepth     uint16 = 5
	// leaf lengths above this mark an unwritten extent, which holds no data yet
	maxInitializedExtentLength uint16 = 32768
)

// extent is a contiguous run of file blocks stored in contiguous filesystem blocks
type extent struct {
	// fileBlock block number relative to the file
	fileBlock uint64
	// startingBlock the first filesystem block holding the run
	startingBlock uint64
	count         uint64
}

// extents maps file blocks to filesystem blocks. It is kept sorted by fileBlock with no overlaps.
type extents []extent

// add appends a single block mapping, extending the last run when contiguous. Blocks must be
// added in increasing file block order.
func (e extents) add(fileBlock, diskBlock uint64) extents {
	if n := len(e); n > 0 {
		last := &e[n-1]
		if last.fileBlock+last.count == fileBlock && last.startingBlock+last.count == diskBlock {
			last.count++
			return e
		}
	}
	return append(e, extent{fileBlock: fileBlock, startingBlock: diskBlock, count: 1})
}

// normalize sorts the runs and rejects overlapping ones
func (e extents) normalize() (extents, error) {
	sort.Slice(e, func(i, j int) bool { return e[i].fileBlock < e[j].fileBlock })
	for i := 1; i < len(e); i++ {
		prev := e[i-1]
		if prev.fileBlock+prev.count > e[i].fileBlock {
			return nil, fmt.Errorf("extents overlap at file block %d", e[i].fileBlock)
		}
	}
	return e, nil
}

// find returns the filesystem block holding file block n
func (e extents) find(n uint64) (uint64, bool) {
	i := sort.Search(len(e), func(i int) bool {
		return e[i].fileBlock+e[i].count > n
	})
	if i == len(e) || e[i].fileBlock > n {
		return 0, false
	}
	return e[i].startingBlock + (n - e[i].fileBlock), true
}

// blockCount how many filesystem blocks are covered in the extents
func (e extents) blockCount() uint64 {
	var count uint64
	for _, ext := range e {
		count += ext.count
	}
	return count
}

// extentBlockFinder is a node of an extent tree that can be unravelled into the runs below it
type extentBlockFinder interface {
	blocks(fs *FileSystem) (extents, error)
	getDepth() uint16
}

var (
	_ extentBlockFinder = &extentInternalNode{}
	_ extentBlockFinder = &extentLeafNode{}
)

// extentNodeHeader represents the header of an extent node
type extentNodeHeader struct {
	depth   uint16 // the depth of tree below here; for leaf nodes, will be 0
	entries uint16 // number of entries
	max     uint16 // maximum number of entries allowed at this level
}

// extentChildPtr points at the block holding the next level down of the tree
type extentChildPtr struct {
	fileBlock uint32 // children of this cover from file block fileBlock onwards
	diskBlock uint64 // block number where the children live
}

// extentLeafNode represents a leaf node of extents. By definition depth=0
type extentLeafNode struct {
	extentNodeHeader
	extents extents
}

func (e *extentLeafNode) blocks(_ *FileSystem) (extents, error) {
	return e.extents, nil
}

func (e *extentLeafNode) getDepth() uint16 {
	return e.depth
}

// extentInternalNode represents an internal node in a tree of extents. By definition depth>0
type extentInternalNode struct {
	extentNodeHeader
	children []*extentChildPtr
}

// blocks walks the tree below the node, reading each child block from the filesystem
func (e *extentInternalNode) blocks(fs *FileSystem) (extents, error) {
	var ret extents
	for _, child := range e.children {
		b, err := fs.readBlock(child.diskBlock)
		if err != nil {
			return nil, fmt.Errorf("could not read extent tree block %d: %w", child.diskBlock, err)
		}
		ebf, err := parseExtents(b)
		if err != nil {
			return nil, fmt.Errorf("extent tree block %d: %w", child.diskBlock, err)
		}
		if ebf.getDepth() != e.depth-1 {
			return nil, fmt.Errorf("extent tree block %d has depth %d below a node of depth %d", child.diskBlock, ebf.getDepth(), e.depth)
		}
		blocks, err := ebf.blocks(fs)
		if err != nil {
			return nil, err
		}
		ret = append(ret, blocks...)
	}
	return ret, nil
}

func (e *extentInternalNode) getDepth() uint16 {
	return e.depth
}

// parseExtents parses one node of an extent tree, either the root in the inode or a tree block.
// It does not recurse down the tree.
func parseExtents(b []byte) (extentBlockFinder, error) {
	// must have at least the header
	if len(b) < extentTreeHeaderLength {
		return nil, fmt.Errorf("cannot parse extent tree from %d bytes, minimum required %d", len(b), extentTreeHeaderLength)
	}
	if sig := binary.LittleEndian.Uint16(b[0:2]); sig != extentHeaderSignature {
		return nil, fmt.Errorf("invalid extent tree signature: 0x%x", sig)
	}
	e := extentNodeHeader{
		entries: binary.LittleEndian.Uint16(b[0x2:0x4]),
		max:     binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth:   binary.LittleEndian.Uint16(b[0x6:0x8]),
	}
	// b[0x8:0xc] is the generation, unused here
	if e.depth > extentTreeMaxDepth {
		return nil, fmt.Errorf("extent tree depth %d exceeds maximum %d", e.depth, extentTreeMaxDepth)
	}
	if e.entries > e.max {
		return nil, fmt.Errorf("extent node has %d entries, more than its maximum %d", e.entries, e.max)
	}
	if need := extentTreeHeaderLength + int(e.entries)*extentTreeEntryLength; need > len(b) {
		return nil, fmt.Errorf("extent node with %d entries needs %d bytes, have %d", e.entries, need, len(b))
	}

	if e.depth == 0 {
		leaf := &extentLeafNode{extentNodeHeader: e}
		for i := 0; i < int(e.entries); i++ {
			start := i*extentTreeEntryLength + extentTreeHeaderLength
			count := binary.LittleEndian.Uint16(b[start+4 : start+6])
			if count > maxInitializedExtentLength {
				continue
			}
			hi := uint64(binary.LittleEndian.Uint16(b[start+6 : start+8]))
			lo := uint64(binary.LittleEndian.Uint32(b[start+8 : start+12]))
			leaf.extents = append(leaf.extents, extent{
				fileBlock:     uint64(binary.LittleEndian.Uint32(b[start : start+4])),
				count:         uint64(count),
				startingBlock: hi<<32 | lo,
			})
		}
		return leaf, nil
	}

	node := &extentInternalNode{extentNodeHeader: e}
	for i := 0; i < int(e.entries); i++ {
		start := i*extentTreeEntryLength + extentTreeHeaderLength
		lo := uint64(binary.LittleEndian.Uint32(b[start+4 : start+8]))
		hi := uint64(binary.LittleEndian.Uint16(b[start+8 : start+10]))
		node.children = append(node.children, &extentChildPtr{
			fileBlock: binary.LittleEndian.Uint32(b[start : start+4]),
			diskBlock: hi<<32 | lo,
		})
	}
	return node, nil
}
