package journal

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// loadSuperblock resolves the journal inode of m and reads and validates its superblock.
//
// On success the caller owns the returned handle and must Release it. On failure the handle has
// already been released.
func loadSuperblock(m Mount, log logrus.FieldLogger) (h Handle, sb *Superblock, err error) {
	inum := m.JournalInode()
	if inum == 0 || inum != ReservedJournalInode {
		log.WithField("inode", inum).Error("invalid journal inode number")
		return nil, nil, fmt.Errorf("%w: journal inode %d, expected %d", ErrInvalidConfig, inum, ReservedJournalInode)
	}

	h, err = m.ResolveInode(inum)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: inode %d: %v", ErrBackingObjectUnavailable, inum, err)
	}
	if h == nil {
		return nil, nil, fmt.Errorf("%w: inode %d resolved to nothing", ErrBackingObjectUnavailable, inum)
	}

	if err := h.Lock(); err != nil {
		_ = h.Release()
		return nil, nil, fmt.Errorf("%w: could not lock inode %d: %v", ErrBackingObjectUnavailable, inum, err)
	}
	sb, err = readSuperblock(h, m.BlockSize())
	if uerr := h.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("%w: could not unlock inode %d: %v", ErrBackingObjectUnavailable, inum, uerr)
	}
	if err != nil {
		_ = h.Release()
		return nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"version":   sb.Header.BlockType,
		"blocksize": sb.BlockSize,
		"maxblocks": sb.MaxBlocks,
		"first":     sb.FirstBlock,
		"start":     sb.StartBlockNum,
		"sequence":  sb.SequenceID,
	}).Debug("read journal superblock")
	return h, sb, nil
}

func readSuperblock(h Handle, blockSize uint32) (*Superblock, error) {
	b, err := h.ReadBlock(0, blockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: superblock: %v", ErrReadFailed, err)
	}

	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSuperblock, err)
	}
	if !header.Valid() {
		return nil, fmt.Errorf("%w: magic 0x%x, expected 0x%x", ErrCorruptSuperblock, header.Magic, Magic)
	}
	if header.BlockType != BlockTypeFormatBasic && header.BlockType != BlockTypeFormatExtended {
		return nil, fmt.Errorf("%w: block type %s", ErrUnsupportedVersion, header.BlockType)
	}

	sb, err := SuperblockFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSuperblock, err)
	}
	return sb, nil
}
