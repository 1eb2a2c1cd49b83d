package ext2

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/diskfs/go-ext2journal/journal"
)

var (
	errReleased  = errors.New("inode handle already released")
	errNotLocked = errors.New("inode handle is not locked")
)

// inodeHandle gives block access to one inode's data. Its block map is resolved once, when the
// handle is created.
type inodeHandle struct {
	fs      *FileSystem
	inode   *inode
	extents extents
	// file is the OS file backing the filesystem, or nil when there is none to flock
	file *os.File

	// mu is the exclusive lock held between Lock and Unlock
	mu sync.Mutex
	// state guards locked, released and extents
	state    sync.Mutex
	locked   bool
	released bool
}

// blockMap returns the block map, or errReleased once the handle was released
func (h *inodeHandle) blockMap() (extents, error) {
	h.state.Lock()
	defer h.state.Unlock()
	if h.released {
		return nil, errReleased
	}
	return h.extents, nil
}

var _ journal.Handle = (*inodeHandle)(nil)

// ReadBlock reads block number block of the inode, counted in units of size bytes
func (h *inodeHandle) ReadBlock(block uint64, size uint32) ([]byte, error) {
	blocks, err := h.blockMap()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("cannot read blocks of size 0")
	}
	if block >= h.inode.size/uint64(size) {
		return nil, fmt.Errorf("%w: block %d of %d bytes is past the end of inode %d (%d bytes)", ErrBlockNotMapped, block, size, h.inode.number, h.inode.size)
	}

	bs := uint64(h.fs.superblock.blockSize)
	start := block * uint64(size)
	end := start + uint64(size)
	buf := make([]byte, size)
	for off := start; off < end; {
		fileBlock := off / bs
		within := off % bs
		diskBlock, ok := blocks.find(fileBlock)
		if !ok {
			return nil, fmt.Errorf("%w: inode %d file block %d", ErrBlockNotMapped, h.inode.number, fileBlock)
		}
		n := min(bs-within, end-off)
		pos := off - start
		if err := h.fs.readAt(buf[pos:pos+n], int64(diskBlock*bs+within)); err != nil {
			return nil, fmt.Errorf("inode %d file block %d: %w", h.inode.number, fileBlock, err)
		}
		off += n
	}
	return buf, nil
}

// Lock takes the in-process lock and, for file-backed storage, an exclusive flock on the file
func (h *inodeHandle) Lock() error {
	h.mu.Lock()
	if _, err := h.blockMap(); err != nil {
		h.mu.Unlock()
		return err
	}
	if h.file != nil {
		if err := lockFile(h.file); err != nil {
			h.mu.Unlock()
			return fmt.Errorf("could not lock %s: %w", h.file.Name(), err)
		}
	}
	h.state.Lock()
	h.locked = true
	h.state.Unlock()
	return nil
}

func (h *inodeHandle) Unlock() error {
	h.state.Lock()
	if !h.locked {
		h.state.Unlock()
		return errNotLocked
	}
	h.locked = false
	h.state.Unlock()
	var err error
	if h.file != nil {
		if uerr := unlockFile(h.file); uerr != nil {
			err = fmt.Errorf("could not unlock %s: %w", h.file.Name(), uerr)
		}
	}
	h.mu.Unlock()
	return err
}

// Release drops the handle. The backing storage belongs to the filesystem and stays open.
func (h *inodeHandle) Release() error {
	h.state.Lock()
	defer h.state.Unlock()
	h.released = true
	h.extents = nil
	return nil
}
