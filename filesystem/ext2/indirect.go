package ext2

import (
	"encoding/binary"
	"fmt"
)

// indirectBlocks unravels the direct, single, double and triple indirect block pointers of an
// inode into runs. Zero pointers are holes and leave their file blocks unmapped.
func (fs *FileSystem) indirectBlocks(in *inode) (extents, error) {
	total := in.blockCount(fs.superblock.blockSize)
	var (
		ret  extents
		next uint64
		err  error
	)
	for n := 0; n < directBlocks && next < total; n++ {
		if p := binary.LittleEndian.Uint32(in.block[n*4 : n*4+4]); p != 0 {
			if err := fs.checkBlock(uint64(p)); err != nil {
				return nil, err
			}
			ret = ret.add(next, uint64(p))
		}
		next++
	}
	for level := 1; level <= 3 && next < total; level++ {
		slot := (directBlocks + level - 1) * 4
		p := binary.LittleEndian.Uint32(in.block[slot : slot+4])
		ret, next, err = fs.walkIndirect(ret, uint64(p), level, next, total)
		if err != nil {
			return nil, fmt.Errorf("inode %d: %w", in.number, err)
		}
	}
	if next < total {
		return nil, fmt.Errorf("inode %d has %d blocks, more than its block map can address", in.number, total)
	}
	return ret, nil
}

// walkIndirect adds the blocks reachable from the pointer block ptr, level levels above the data,
// starting at file block next. It returns the file block following the last one covered.
func (fs *FileSystem) walkIndirect(ret extents, ptr uint64, level int, next, total uint64) (extents, uint64, error) {
	perBlock := uint64(fs.superblock.blockSize / 4)
	if ptr == 0 {
		span := uint64(1)
		for i := 0; i < level; i++ {
			span *= perBlock
		}
		return ret, min(next+span, total), nil
	}
	if err := fs.checkBlock(ptr); err != nil {
		return nil, 0, err
	}
	b, err := fs.readBlock(ptr)
	if err != nil {
		return nil, 0, fmt.Errorf("could not read indirect block %d: %w", ptr, err)
	}
	for k := uint64(0); k < perBlock && next < total; k++ {
		p := uint64(binary.LittleEndian.Uint32(b[k*4 : k*4+4]))
		if level == 1 {
			if p != 0 {
				if err := fs.checkBlock(p); err != nil {
					return nil, 0, err
				}
				ret = ret.add(next, p)
			}
			next++
			continue
		}
		ret, next, err = fs.walkIndirect(ret, p, level-1, next, total)
		if err != nil {
			return nil, 0, err
		}
	}
	return ret, next, nil
}
