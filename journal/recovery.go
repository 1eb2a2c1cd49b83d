package journal

import (
	"github.com/sirupsen/logrus"
)

// StopReason says why a recovery scan ended
type StopReason int

const (
	// StopEndOfLog means a transaction could not be walked; the rest of the log is taken to be
	// unwritten or torn
	StopEndOfLog StopReason = iota
	// StopReachedStart means the scan came back around to the checkpoint
	StopReachedStart
	// StopNoProgress means a walk returned its own start position
	StopNoProgress
	// StopCycle means a full journal's worth of blocks was walked without landing on the checkpoint
	StopCycle
)

func (r StopReason) String() string {
	switch r {
	case StopEndOfLog:
		return "end-of-log"
	case StopReachedStart:
		return "reached-start"
	case StopNoProgress:
		return "no-progress"
	case StopCycle:
		return "cycle"
	}
	return "unknown"
}

// RecoveryResult describes a completed recovery scan
type RecoveryResult struct {
	// Start is the checkpoint the scan began at
	Start uint32
	// End is where the next transaction would begin after the last one walked successfully
	End          uint32
	Reason       StopReason
	Transactions []*Transaction
}

// Recover walks the log from the checkpoint, one transaction at a time, until it comes back to the
// checkpoint or a transaction cannot be walked.
//
// It is only valid on a journal that needs recovery; otherwise ErrRecoveryNotNeeded is returned.
// When the scan stops on a bad transaction, the result is returned together with the walk error.
// That error is diagnostic: IsEndOfLog reports true for it and the journal stays usable.
func (j *Journal) Recover() (*RecoveryResult, error) {
	if j.handle == nil {
		return nil, errClosed
	}
	if j.state != StateNeedsRecovery {
		j.log.Info("journal recovery not needed")
		return nil, ErrRecoveryNotNeeded
	}

	res := &RecoveryResult{
		Start: j.logStart,
		End:   j.logStart,
	}
	cur := j.logStart
	var walked uint64
	for {
		t, err := j.walkTransaction(cur)
		if err != nil {
			res.Reason = StopEndOfLog
			j.finishRecovery(res)
			j.log.WithError(err).WithField("position", cur).Warn("journal scan stopped, assuming end of log")
			return res, err
		}
		res.Transactions = append(res.Transactions, t)
		res.End = t.Next
		walked += uint64(len(t.DataBlocks)) + 2

		if t.Next == j.logStart {
			res.Reason = StopReachedStart
			break
		}
		if t.Next == cur {
			res.Reason = StopNoProgress
			break
		}
		if walked >= uint64(j.maxBlocks) {
			res.Reason = StopCycle
			break
		}
		cur = t.Next
	}
	j.finishRecovery(res)
	return res, nil
}

func (j *Journal) finishRecovery(res *RecoveryResult) {
	j.logEnd = res.End
	j.metrics.recovery(res.Reason)
	j.log.WithFields(logrus.Fields{
		"start":        res.Start,
		"end":          res.End,
		"reason":       res.Reason,
		"transactions": len(res.Transactions),
	}).Info("journal recovery scan finished")
}
