package journal

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig            = errors.New("invalid journal inode configuration")
	ErrBackingObjectUnavailable = errors.New("journal backing object unavailable")
	ErrReadFailed               = errors.New("journal block read failed")
	ErrCorruptSuperblock        = errors.New("corrupt journal superblock")
	ErrUnsupportedVersion       = errors.New("unsupported journal superblock version")
	ErrJournalTooSmall          = errors.New("journal has too few blocks")
	ErrInvalidTransaction       = errors.New("invalid journal transaction")
	ErrMissingTerminator        = errors.New("descriptor block has no last-entry tag")
	ErrUnexpectedBlockType      = errors.New("unexpected journal block type")
	ErrRecoveryNotNeeded        = errors.New("journal does not need recovery")
	ErrReplayFailed             = errors.New("block visitor failed")
)

// Phase names the part of a transaction being read when a walk failed
type Phase int

const (
	PhaseDescriptor Phase = iota
	PhaseData
	PhaseTerminator
)

func (p Phase) String() string {
	switch p {
	case PhaseDescriptor:
		return "descriptor"
	case PhaseData:
		return "data"
	case PhaseTerminator:
		return "terminator"
	}
	return "unknown"
}

// TransactionError is returned when walking the transaction starting at Start fails at journal
// block Block
type TransactionError struct {
	Start uint32
	Block uint32
	Phase Phase
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction at %d: %s block %d: %v", e.Start, e.Phase, e.Block, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func newTransactionError(start, block uint32, phase Phase, err error) *TransactionError {
	return &TransactionError{
		Start: start,
		Block: block,
		Phase: phase,
		Err:   err,
	}
}

// IsEndOfLog reports whether err, as returned by Recover, means the scan ran into an unwritten or
// damaged tail rather than being a caller or replay error. Such errors do not prevent mounting.
func IsEndOfLog(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && !errors.Is(err, ErrReplayFailed)
}
