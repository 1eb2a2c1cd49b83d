// Package ext2 reads just enough of an ext2, ext3 or ext4 filesystem to host its journal: the
// superblock, the group descriptors, and the block map of the journal inode.
package ext2

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/diskfs/go-ext2journal/backend"
	"github.com/diskfs/go-ext2journal/journal"
)

// FileSystem is an ext2/3/4 filesystem opened for journal recovery. It implements journal.Mount
// and journal.Registrar.
type FileSystem struct {
	superblock       *superblock
	groupDescriptors []groupDescriptor
	size             int64
	start            int64
	backend          backend.Storage
	log              logrus.FieldLogger
	journal          *journal.Journal
}

// Opt configures a FileSystem being read
type Opt func(fs *FileSystem)

// WithLogger sets the logger for filesystem diagnostics
func WithLogger(log logrus.FieldLogger) Opt {
	return func(fs *FileSystem) {
		if log != nil {
			fs.log = log
		}
	}
}

// interface guards
var (
	_ journal.Mount     = (*FileSystem)(nil)
	_ journal.Registrar = (*FileSystem)(nil)
)

// Read reads a filesystem from b, starting at byte start. A size of 0 means up to the end of b.
func Read(b backend.Storage, size, start int64, opts ...Opt) (*FileSystem, error) {
	fs := &FileSystem{
		start: start,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(fs)
	}

	fsBackend, err := backend.Sub(b, start, size)
	if err != nil {
		return nil, fmt.Errorf("could not open filesystem at offset %d: %w", start, err)
	}
	if fs.size, err = fsBackend.Size(); err != nil {
		return nil, err
	}
	if fs.size < SuperblockOffset+SuperblockSize {
		return nil, fmt.Errorf("%w: %d bytes is too small to hold a superblock", ErrNotExt, fs.size)
	}
	fs.backend = fsBackend

	superblockBytes := make([]byte, SuperblockSize)
	if err := fs.readAt(superblockBytes, SuperblockOffset); err != nil {
		return nil, fmt.Errorf("could not read superblock bytes: %w", err)
	}
	sb, err := superblockFromBytes(superblockBytes)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	fs.superblock = sb

	// how big should the GDT be?
	groups := sb.blockGroupCount()
	fsSize := uint64(fs.size)
	if groups > fsSize/uint64(sb.blockSize) {
		return nil, fmt.Errorf("%w: %d block groups cannot fit in %d bytes", ErrNotExt, groups, fs.size)
	}
	if uint64(sb.inodesPerGroup)*groups < uint64(sb.inodeCount) {
		return nil, fmt.Errorf("%w: %d groups of %d inodes cannot hold %d inodes", ErrNotExt, groups, sb.inodesPerGroup, sb.inodeCount)
	}
	if groups > fsSize/uint64(sb.groupDescriptorSize) {
		return nil, fmt.Errorf("%w: descriptors for %d block groups cannot fit in %d bytes", ErrNotExt, groups, fs.size)
	}
	gdtSize := uint64(sb.groupDescriptorSize) * groups
	if gdtSize == 0 {
		return nil, errors.New("calculated Group Descriptor Table size is zero")
	}
	// gdtBlock is at most 2^32 and the block size at most 64KiB, so the offset cannot overflow
	gdtOffset := sb.gdtBlock() * uint64(sb.blockSize)
	if gdtOffset > fsSize || gdtSize > fsSize-gdtOffset {
		return nil, fmt.Errorf("%w: Group Descriptor Table of %d bytes at %d runs past the end of the filesystem (%d bytes)", ErrNotExt, gdtSize, gdtOffset, fs.size)
	}
	gdtBytes := make([]byte, gdtSize)
	if err := fs.readAt(gdtBytes, int64(gdtOffset)); err != nil {
		return nil, fmt.Errorf("could not read Group Descriptor Table bytes: %w", err)
	}
	if fs.groupDescriptors, err = groupDescriptorsFromBytes(gdtBytes, sb.groupDescriptorSize, groups); err != nil {
		return nil, fmt.Errorf("could not interpret Group Descriptor Table data: %w", err)
	}

	fs.log.WithFields(logrus.Fields{
		"blocksize":      sb.blockSize,
		"blocks":         sb.blockCount,
		"groups":         groups,
		"clean":          fs.IsClean(),
		"needs_recovery": sb.featureIncompat&incompatRecover != 0,
		"extents":        sb.featureIncompat&incompatExtents != 0,
		"journal_inode":  sb.journalInode,
	}).Debug("read filesystem superblock")
	return fs, nil
}

// Close closes the journal registered with the filesystem, if any. The backing storage belongs to
// the caller and is left open.
func (fs *FileSystem) Close() error {
	j := fs.journal
	fs.journal = nil
	return j.Close()
}

// JournalInode is the inode number the superblock records for the journal
func (fs *FileSystem) JournalInode() uint32 {
	return fs.superblock.journalInode
}

// BlockSize is the filesystem block size in bytes
func (fs *FileSystem) BlockSize() uint32 {
	return fs.superblock.blockSize
}

// IsClean reports the superblock state's clean bit
func (fs *FileSystem) IsClean() bool {
	return fs.superblock.state&stateClean == stateClean
}

// HasJournal reports whether the filesystem keeps its journal in an inode. Filesystems with an
// external journal device, or no journal at all, do not.
func (fs *FileSystem) HasJournal() bool {
	sb := fs.superblock
	return sb.hasJournal() && sb.journalInode != 0 && sb.featureIncompat&incompatJournalDev == 0
}

// Label is the volume label
func (fs *FileSystem) Label() string {
	return fs.superblock.volumeLabel
}

func (fs *FileSystem) UUID() uuid.UUID {
	return fs.superblock.uuid
}

// ResolveInode reads the inode and its whole block map and returns a handle to its data
func (fs *FileSystem) ResolveInode(number uint32) (journal.Handle, error) {
	in, err := fs.readInode(number)
	if err != nil {
		return nil, err
	}

	var ext extents
	if in.usesExtents() {
		root, err := parseExtents(in.block[:])
		if err != nil {
			return nil, fmt.Errorf("could not parse extent tree of inode %d: %w", number, err)
		}
		if ext, err = root.blocks(fs); err != nil {
			return nil, fmt.Errorf("could not read extent tree of inode %d: %w", number, err)
		}
		for _, e := range ext {
			if err := fs.checkBlock(e.startingBlock + e.count - 1); err != nil {
				return nil, fmt.Errorf("inode %d: %w", number, err)
			}
		}
	} else if ext, err = fs.indirectBlocks(in); err != nil {
		return nil, err
	}
	if ext, err = ext.normalize(); err != nil {
		return nil, fmt.Errorf("inode %d: %w", number, err)
	}

	// storage without an OS file, e.g. in memory, gets the in-process lock only
	file, err := fs.backend.Sys()
	if err != nil {
		file = nil
	}

	fs.log.WithFields(logrus.Fields{
		"inode":   number,
		"size":    in.size,
		"extents": in.usesExtents(),
		"runs":    len(ext),
		"blocks":  ext.blockCount(),
	}).Debug("resolved inode block map")
	return &inodeHandle{
		fs:      fs,
		inode:   in,
		extents: ext,
		file:    file,
	}, nil
}

// RegisterJournal records the journal opened on this filesystem, so Close can close it
func (fs *FileSystem) RegisterJournal(j *journal.Journal) {
	fs.journal = j
}

// Journal is the journal registered with the filesystem, or nil
func (fs *FileSystem) Journal() *journal.Journal {
	return fs.journal
}

// readInode read a single inode from disk
func (fs *FileSystem) readInode(inodeNumber uint32) (*inode, error) {
	sb := fs.superblock
	if inodeNumber == 0 || inodeNumber > sb.inodeCount {
		return nil, fmt.Errorf("%w: %d, filesystem has %d", ErrInodeOutOfRange, inodeNumber, sb.inodeCount)
	}
	// figure out which block group the inode is on
	bg := (inodeNumber - 1) / sb.inodesPerGroup
	gd := fs.groupDescriptors[bg]
	offsetInode := (inodeNumber - 1) % sb.inodesPerGroup
	byteStart := gd.inodeTableLocation*uint64(sb.blockSize) + uint64(offsetInode)*uint64(sb.inodeSize)

	inodeBytes := make([]byte, sb.inodeSize)
	if err := fs.readAt(inodeBytes, int64(byteStart)); err != nil {
		return nil, fmt.Errorf("failed to read inode %d from block group %d: %w", inodeNumber, bg, err)
	}
	in, err := inodeFromBytes(inodeBytes, inodeNumber)
	if err != nil {
		return nil, fmt.Errorf("could not interpret inode data: %w", err)
	}
	return in, nil
}

// readBlock read a single block from disk
func (fs *FileSystem) readBlock(blockNumber uint64) ([]byte, error) {
	blockBytes := make([]byte, fs.superblock.blockSize)
	if err := fs.readAt(blockBytes, int64(blockNumber*uint64(fs.superblock.blockSize))); err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", blockNumber, err)
	}
	return blockBytes, nil
}

// readAt fills p from offset off, treating a short read as an error
func (fs *FileSystem) readAt(p []byte, off int64) error {
	n, err := fs.backend.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("read %d bytes at offset %d instead of %d", n, off, len(p))
}

// checkBlock rejects block numbers past the end of the filesystem
func (fs *FileSystem) checkBlock(n uint64) error {
	if n >= fs.superblock.blockCount {
		return fmt.Errorf("block %d is outside the filesystem of %d blocks", n, fs.superblock.blockCount)
	}
	return nil
}
