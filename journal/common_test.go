package journal

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const testBlockSize uint32 = 1024

// fakeHandle is an in-memory journal object. Blocks not written read back as zeros.
type fakeHandle struct {
	blocks   map[uint64][]byte
	readErr  map[uint64]error
	reads    []uint64
	locked   bool
	locks    int
	unlocks  int
	released int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		blocks:  map[uint64][]byte{},
		readErr: map[uint64]error{},
	}
}

func (h *fakeHandle) ReadBlock(block uint64, size uint32) ([]byte, error) {
	h.reads = append(h.reads, block)
	if err, ok := h.readErr[block]; ok {
		return nil, err
	}
	b := make([]byte, size)
	copy(b, h.blocks[block])
	return b, nil
}

func (h *fakeHandle) Lock() error {
	if h.locked {
		return errors.New("already locked")
	}
	h.locked = true
	h.locks++
	return nil
}

func (h *fakeHandle) Unlock() error {
	if !h.locked {
		return errors.New("not locked")
	}
	h.locked = false
	h.unlocks++
	return nil
}

func (h *fakeHandle) Release() error {
	h.released++
	return nil
}

type fakeMount struct {
	inode      uint32
	blockSize  uint32
	clean      bool
	handle     *fakeHandle
	resolveErr error
	registered *Journal
}

func (m *fakeMount) JournalInode() uint32 { return m.inode }
func (m *fakeMount) BlockSize() uint32    { return m.blockSize }
func (m *fakeMount) IsClean() bool        { return m.clean }

func (m *fakeMount) ResolveInode(number uint32) (Handle, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return m.handle, nil
}

func (m *fakeMount) RegisterJournal(j *Journal) {
	m.registered = j
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testSuperblock(blockSize, maxBlocks, first, start uint32) *Superblock {
	return &Superblock{
		Header: BlockHeader{
			Magic:     Magic,
			BlockType: BlockTypeFormatExtended,
		},
		BlockSize:     blockSize,
		MaxBlocks:     maxBlocks,
		FirstBlock:    first,
		SequenceID:    1,
		StartBlockNum: start,
		UUID:          uuid.MustParse("5d1b7a3c-8a3e-4e5f-9c2b-0f6f1d2e3a4b"),
		NumUsers:      1,
		TransMax:      32768,
		TransDataMax:  32768,
		ChecksumType:  ChecksumTypeCRC32C,
	}
}

// newTestMount returns a dirty mount whose journal holds sb at block 0
func newTestMount(sb *Superblock) *fakeMount {
	h := newFakeHandle()
	h.blocks[0] = sb.ToBytes()
	return &fakeMount{
		inode:     ReservedJournalInode,
		blockSize: sb.BlockSize,
		handle:    h,
	}
}

// ring computes log positions the same way a correct walker must, independently of the
// journal code
type ring struct {
	first, last uint32
}

func (r ring) next(pos uint32) uint32 {
	if pos == r.last {
		return r.first
	}
	return pos + 1
}

func descriptorBytes(t *testing.T, sb *Superblock, seq uint32, tags int) []byte {
	t.Helper()
	d := &DescriptorBlock{
		Header: BlockHeader{Magic: Magic, BlockType: BlockTypeDescriptor, Sequence: seq},
	}
	for i := 0; i < tags; i++ {
		tag := DescriptorTag{BlockNr: uint64(5000 + i), Flags: TagSameUUID}
		if i == 0 {
			u := sb.UUID
			tag.Flags = 0
			tag.UUID = &u
		}
		if i == tags-1 {
			tag.Flags |= TagLastEntry
		}
		d.Tags = append(d.Tags, tag)
	}
	b, err := d.ToBytes(sb, sb.BlockSize)
	if err != nil {
		t.Fatalf("could not build descriptor block: %v", err)
	}
	return b
}

func commitBytes(sb *Superblock, seq uint32) []byte {
	c := &CommitHeader{
		Header:       BlockHeader{Magic: Magic, BlockType: BlockTypeCommit, Sequence: seq},
		ChecksumType: ChecksumTypeCRC32C,
		ChecksumSize: 4,
		CommitSec:    1700000000,
	}
	return c.ToBytes(sb.BlockSize)
}

// writeTransaction lays out a descriptor with n tags at start, n data blocks and a commit block,
// and returns the position after the commit
func writeTransaction(t *testing.T, h *fakeHandle, sb *Superblock, r ring, start, seq uint32, n int) uint32 {
	t.Helper()
	h.blocks[uint64(start)] = descriptorBytes(t, sb, seq, n)
	pos := r.next(start)
	for i := 0; i < n; i++ {
		data := make([]byte, sb.BlockSize)
		data[0] = byte(i + 1)
		h.blocks[uint64(pos)] = data
		pos = r.next(pos)
	}
	h.blocks[uint64(pos)] = commitBytes(sb, seq)
	return r.next(pos)
}
