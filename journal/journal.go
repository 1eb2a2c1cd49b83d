// Package journal reads and recovers the jbd2 write-ahead journal used by ext3 and ext4.
//
// A journal is opened against a Mount, which supplies the host filesystem's view of the
// journal inode, and recovered by walking committed transactions from the checkpoint in
// log order:
//
//	j, err := journal.Open(fs, journal.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer j.Close()
//	if j.NeedsRecovery() {
//		res, err := j.Recover()
//		...
//	}
//
// Replaying data blocks into the filesystem is left to a BlockVisitor.
package journal

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// State says whether the journal must be replayed before the filesystem is used
type State int

const (
	StateClean State = iota
	StateNeedsRecovery
)

func (s State) String() string {
	if s == StateNeedsRecovery {
		return "needs-recovery"
	}
	return "clean"
}

var errClosed = errors.New("journal is closed")

// BlockVisitor is called for every data block of a transaction, in log order, with the tag that
// describes it, its position in the journal, and its contents.
type BlockVisitor func(tag DescriptorTag, position uint32, data []byte) error

// OpenOpt configures a Journal being opened
type OpenOpt func(j *Journal)

// WithLogger sets the logger used for open and recovery diagnostics
func WithLogger(log logrus.FieldLogger) OpenOpt {
	return func(j *Journal) {
		if log != nil {
			j.log = log
		}
	}
}

// WithMetrics records recovery scans in m
func WithMetrics(m *Metrics) OpenOpt {
	return func(j *Journal) {
		j.metrics = m
	}
}

// WithBlockVisitor hands every scanned data block to v
func WithBlockVisitor(v BlockVisitor) OpenOpt {
	return func(j *Journal) {
		j.visitor = v
	}
}

// Journal is an open, in-memory journal
type Journal struct {
	handle  Handle
	sb      *Superblock
	log     logrus.FieldLogger
	metrics *Metrics
	visitor BlockVisitor

	// fsBlockSize is the unit reads are issued in
	fsBlockSize uint32

	blockSize uint32
	maxBlocks uint32
	first     uint32
	last      uint32
	state     State
	logStart  uint32
	logEnd    uint32

	// reserved for the commit path
	activeTransaction     *Transaction
	committingTransaction *Transaction
}

// Open reads the journal superblock of m and initializes the journal from it. On any failure
// everything acquired so far is released and no journal is returned.
func Open(m Mount, opts ...OpenOpt) (*Journal, error) {
	j := &Journal{
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}

	handle, sb, err := loadSuperblock(m, j.log)
	if err != nil {
		j.log.WithError(err).Error("failed to open journal inode")
		_ = j.Close()
		return nil, fmt.Errorf("could not open journal inode: %w", err)
	}
	j.handle = handle
	j.sb = sb
	j.fsBlockSize = m.BlockSize()

	if err := j.initState(m); err != nil {
		j.log.WithError(err).Error("failed to initialize journal")
		_ = j.Close()
		return nil, fmt.Errorf("could not initialize journal: %w", err)
	}

	if r, ok := m.(Registrar); ok {
		r.RegisterJournal(j)
	}
	return j, nil
}

// Close releases the backing object and drops the superblock. It is safe to call on a nil or
// already closed journal.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	if j.handle != nil {
		err = j.handle.Release()
		j.handle = nil
	}
	j.sb = nil
	return err
}

// Superblock returns a copy of the decoded journal superblock
func (j *Journal) Superblock() Superblock {
	if j.sb == nil {
		return Superblock{}
	}
	return *j.sb
}

// State returns whether the journal is clean or needs recovery
func (j *Journal) State() State {
	return j.state
}

// NeedsRecovery is shorthand for State() == StateNeedsRecovery
func (j *Journal) NeedsRecovery() bool {
	return j.state == StateNeedsRecovery
}

// BlockSize is the journal block size in bytes
func (j *Journal) BlockSize() uint32 {
	return j.blockSize
}

// MaxBlocks is the total number of blocks in the journal
func (j *Journal) MaxBlocks() uint32 {
	return j.maxBlocks
}

// First and Last bound the circular log, inclusive
func (j *Journal) First() uint32 {
	return j.first
}

func (j *Journal) Last() uint32 {
	return j.last
}

// LogStart is the checkpoint recovery starts scanning from
func (j *Journal) LogStart() uint32 {
	return j.logStart
}

// LogEnd is the position after the last transaction found by the most recent recovery
func (j *Journal) LogEnd() uint32 {
	return j.logEnd
}
