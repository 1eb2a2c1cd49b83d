package journal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transaction is what a walk found for one descriptor/data/terminator run in the log
type Transaction struct {
	// Start is the position of the descriptor block
	Start uint32
	// Sequence is the descriptor's sequence number
	Sequence uint32
	Tags     []DescriptorTag
	// DataBlocks are the journal positions of the data blocks, one per tag, in log order
	DataBlocks []uint32
	// Terminator is the position of the commit or revoke block
	Terminator     uint32
	TerminatorType BlockType
	// CommitSequence is the terminator's sequence number. It is recorded, not checked.
	CommitSequence uint32
	Commit         *CommitHeader
	Revoke         *RevokeHeader
	// Next is where the following transaction should start
	Next uint32
}

func (j *Journal) readBlock(pos uint32) ([]byte, error) {
	if j.handle == nil {
		return nil, errClosed
	}
	b, err := j.handle.ReadBlock(uint64(pos), j.fsBlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrReadFailed, pos, err)
	}
	return b, nil
}

func (j *Journal) walkError(start, block uint32, phase Phase, err error) error {
	j.metrics.scanError(phase)
	return newTransactionError(start, block, phase, err)
}

// walkTransaction reads the transaction whose descriptor is at start. Any failure ends the walk,
// there is no attempt to resynchronize on a later descriptor.
func (j *Journal) walkTransaction(start uint32) (*Transaction, error) {
	log := j.log.WithField("start", start)

	b, err := j.readBlock(start)
	if err != nil {
		return nil, j.walkError(start, start, PhaseDescriptor, err)
	}
	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return nil, j.walkError(start, start, PhaseDescriptor, fmt.Errorf("%w: %v", ErrInvalidTransaction, err))
	}
	if !header.Valid() {
		return nil, j.walkError(start, start, PhaseDescriptor, fmt.Errorf("%w: descriptor has magic 0x%x", ErrInvalidTransaction, header.Magic))
	}
	if header.BlockType != BlockTypeDescriptor {
		return nil, j.walkError(start, start, PhaseDescriptor, fmt.Errorf("%w: expected descriptor block, found %s", ErrInvalidTransaction, header.BlockType))
	}

	tags, err := parseDescriptor(b, j.sb)
	if err != nil {
		return nil, j.walkError(start, start, PhaseDescriptor, err)
	}
	log = log.WithFields(logrus.Fields{
		"sequence": header.Sequence,
		"tags":     len(tags),
	})
	for i, tag := range tags {
		log.WithFields(logrus.Fields{
			"tag":      i,
			"flags":    tag.Flags,
			"checksum": tag.Checksum,
			"target":   tag.BlockNr,
		}).Trace("descriptor tag")
	}

	t := &Transaction{
		Start:      start,
		Sequence:   header.Sequence,
		Tags:       tags,
		DataBlocks: make([]uint32, 0, len(tags)),
	}

	cur := j.next(start)
	for _, tag := range tags {
		data, err := j.readBlock(cur)
		if err != nil {
			return nil, j.walkError(start, cur, PhaseData, err)
		}
		h, herr := BlockHeaderFromBytes(data)
		hasMagic := herr == nil && h.Valid()
		if hasMagic {
			log.WithFields(logrus.Fields{
				"block": cur,
				"type":  h.BlockType,
			}).Warn("data block carries journal magic, tag count may be wrong")
		}
		j.metrics.dataBlock(hasMagic)
		if j.visitor != nil {
			if err := j.visitor(tag, cur, data); err != nil {
				return nil, j.walkError(start, cur, PhaseData, fmt.Errorf("%w: %w", ErrReplayFailed, err))
			}
		}
		t.DataBlocks = append(t.DataBlocks, cur)
		cur = j.next(cur)
	}

	if err := j.readTerminator(t, cur); err != nil {
		return nil, j.walkError(start, cur, PhaseTerminator, err)
	}
	t.Next = j.next(cur)
	j.metrics.transaction(t.TerminatorType)

	log.WithFields(logrus.Fields{
		"terminator": t.Terminator,
		"type":       t.TerminatorType,
		"commit":     t.CommitSequence,
		"next":       t.Next,
	}).Debug("walked transaction")
	return t, nil
}

// readTerminator reads the block at pos, which must be a commit or revoke block, into t
func (j *Journal) readTerminator(t *Transaction, pos uint32) error {
	b, err := j.readBlock(pos)
	if err != nil {
		return err
	}
	header, err := BlockHeaderFromBytes(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if !header.Valid() {
		return fmt.Errorf("%w: terminator has magic 0x%x", ErrInvalidTransaction, header.Magic)
	}

	switch header.BlockType {
	case BlockTypeCommit:
		c, err := CommitHeaderFromBytes(b)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		t.Commit = c
	case BlockTypeRevoke:
		// revoked block numbers are not collected, replay must skip them itself
		r, err := RevokeHeaderFromBytes(b)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		t.Revoke = r
	default:
		return fmt.Errorf("%w: %s at terminator position", ErrUnexpectedBlockType, header.BlockType)
	}
	t.Terminator = pos
	t.TerminatorType = header.BlockType
	t.CommitSequence = header.Sequence
	return nil
}

// parseDescriptor returns the tags of a descriptor block, up to and including the one flagged
// TagLastEntry. Tags are packed at the superblock's stride, each followed by a 16-byte UUID unless
// flagged TagSameUUID. With checksum v2 the block tail is not part of the tag area.
func parseDescriptor(b []byte, sb *Superblock) ([]DescriptorTag, error) {
	stride := sb.TagStride()
	usable := len(b)
	if sb.HasChecksumV2() {
		usable -= descriptorTailSize
	}

	var tags []DescriptorTag
	offset := HeaderSize
	for offset+stride <= usable {
		tag, err := DescriptorTagFromBytes(b[offset:offset+stride], sb)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %d: %v", ErrInvalidTransaction, len(tags), err)
		}
		if tag.Has(TagLastEntry) {
			if !tag.Has(TagSameUUID) && offset+stride+uuidSize <= usable {
				tag.UUID = uuidFromBytes(b[offset+stride:])
			}
			return append(tags, tag), nil
		}

		offset += stride
		if !tag.Has(TagSameUUID) {
			if offset+uuidSize <= usable {
				tag.UUID = uuidFromBytes(b[offset:])
			}
			offset += uuidSize
			// a UUID running into the end of the tag area leaves the list truncated
			if offset >= usable {
				break
			}
		}
		tags = append(tags, tag)
	}
	return nil, fmt.Errorf("%w: %d tags before end of block", ErrMissingTerminator, len(tags))
}

func uuidFromBytes(b []byte) *uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:uuidSize])
	return &u
}
