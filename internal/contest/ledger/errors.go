package ledger

import "errors"

var (
	// ErrDuplicateSubmit means the triple already holds an accepted submission.
	ErrDuplicateSubmit = errors.New("ledger: accepted submission already recorded")
	// ErrContestClosed means the contest was not running when the write was attempted.
	ErrContestClosed = errors.New("ledger: contest is not running")
	// ErrSubmissionInFlight means a submission for the triple is still awaiting its verdict.
	ErrSubmissionInFlight = errors.New("ledger: previous submission still pending")
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("ledger: attempt not found")
	// ErrAttemptResolved means the attempt already carries a final verdict.
	ErrAttemptResolved = errors.New("ledger: attempt already resolved")
	// ErrInvariantViolation means a second accepted submission tried to commit and was rejected.
	ErrInvariantViolation = errors.New("ledger: second accepted submission rejected")
	// ErrInvalidAttempt is returned for attempts missing identity fields or mode.
	ErrInvalidAttempt = errors.New("ledger: invalid attempt")
	// ErrLockTimeout means the triple lock could not be acquired in time.
	ErrLockTimeout = errors.New("ledger: lock wait timed out")

	// ErrDuplicateAccept is raised by stores whose unique constraint rejects a
	// second accepted submission for a triple.
	ErrDuplicateAccept = errors.New("ledger store: duplicate accepted submission")
)
