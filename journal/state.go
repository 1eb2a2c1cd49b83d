package journal

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// MinBlocks is the smallest journal accepted
const MinBlocks uint32 = 1024

// initState derives the log geometry from the superblock and takes the clean/dirty state from the
// host filesystem, not from the journal itself.
func (j *Journal) initState(m Mount) error {
	sb := j.sb
	j.blockSize = sb.BlockSize
	j.maxBlocks = sb.MaxBlocks
	j.first = sb.FirstBlock

	// every log block is read in filesystem blocks
	if sb.BlockSize != m.BlockSize() {
		return fmt.Errorf("%w: journal block size %d does not match filesystem block size %d", ErrCorruptSuperblock, sb.BlockSize, m.BlockSize())
	}
	if j.maxBlocks < MinBlocks {
		return fmt.Errorf("%w: %d blocks, need at least %d", ErrJournalTooSmall, j.maxBlocks, MinBlocks)
	}
	if uint64(j.first)+uint64(j.maxBlocks)-1 > math.MaxUint32 {
		return fmt.Errorf("%w: log of %d blocks from %d overflows 32-bit block numbers", ErrCorruptSuperblock, j.maxBlocks, j.first)
	}
	j.last = j.first + j.maxBlocks - 1

	if m.IsClean() {
		j.state = StateClean
	} else {
		j.state = StateNeedsRecovery
	}

	j.logStart = sb.StartBlockNum
	j.logEnd = sb.StartBlockNum

	log := j.log.WithFields(logrus.Fields{
		"first": j.first,
		"last":  j.last,
		"state": j.state,
	})
	if j.logStart == 0 {
		log.Debug("journal superblock has no checkpoint")
	}
	log.WithField("start", j.logStart).Info("journal initialized")
	return nil
}

// wrap maps a position that ran past the end of the log back to its start
func (j *Journal) wrap(pos uint64) uint32 {
	if pos > uint64(j.last) {
		pos = uint64(j.first) + (pos-uint64(j.first))%uint64(j.maxBlocks)
	}
	return uint32(pos)
}

// next returns the position following pos in the circular log
func (j *Journal) next(pos uint32) uint32 {
	return j.wrap(uint64(pos) + 1)
}
