// Package ledger is the append-only record of every run and submission.
// It is the only writer of attempts and the single source of truth that
// scoring and rankings derive from.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/contest/clock"
	"arena/internal/contest/model"
	"arena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContestSource resolves contests for the phase check.
type ContestSource interface {
	Get(ctx context.Context, contestID string) (*model.Contest, error)
}

// EventKind names the ledger mutation carried by an Event.
type EventKind string

const (
	EventRecorded EventKind = "recorded"
	EventResolved EventKind = "resolved"
)

// Event describes a committed ledger write.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Attempt  model.Attempt `json:"attempt"`
	Revision uint64        `json:"revision"`
}

// Listener is notified after every committed write, outside the triple lock.
type Listener interface {
	AttemptChanged(ctx context.Context, ev Event)
}

type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) AttemptChanged(ctx context.Context, ev Event) { f(ctx, ev) }

// Config wires a Ledger.
type Config struct {
	Store     Store
	Locker    Locker
	Contests  ContestSource
	Clock     clock.Clock
	Listeners []Listener
}

type Ledger struct {
	store    Store
	locker   Locker
	contests ContestSource
	clock    clock.Clock

	listenersMu sync.RWMutex
	listeners   []Listener

	revisions sync.Map // contestID -> *atomic.Uint64
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("ledger: contest source is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	return &Ledger{
		store:     cfg.Store,
		locker:    cfg.Locker,
		contests:  cfg.Contests,
		clock:     cfg.Clock,
		listeners: append([]Listener(nil), cfg.Listeners...),
	}, nil
}

// AddListener registers l for all subsequent writes.
func (l *Ledger) AddListener(ln Listener) {
	l.listenersMu.Lock()
	l.listeners = append(l.listeners, ln)
	l.listenersMu.Unlock()
}

// Revision is a per-contest counter bumped on every committed write.
func (l *Ledger) Revision(contestID string) uint64 {
	if v, ok := l.revisions.Load(contestID); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

func (l *Ledger) bump(contestID string) uint64 {
	v, _ := l.revisions.LoadOrStore(contestID, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1)
}

func (l *Ledger) notify(ctx context.Context, kind EventKind, a model.Attempt) {
	ev := Event{Kind: kind, Attempt: a, Revision: l.bump(a.ContestID)}
	l.listenersMu.RLock()
	listeners := l.listeners
	l.listenersMu.RUnlock()
	for _, ln := range listeners {
		ln.AttemptChanged(ctx, ev)
	}
}

// Record appends a. The ledger assigns ID (when empty), Seq and SubmittedAt
// and writes them back into a. Submit attempts are always recorded pending and
// receive their verdict through Resolve; run attempts may carry a final verdict.
func (l *Ledger) Record(ctx context.Context, a *model.Attempt) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}
	contest, err := l.contests.Get(ctx, a.ContestID)
	if err != nil {
		return "", err
	}

	key := a.Key()
	unlock, err := l.locker.Lock(ctx, key)
	if err != nil {
		return "", err
	}
	recorded, err := l.recordLocked(ctx, contest, a)
	unlock()
	if err != nil {
		return "", err
	}

	l.notify(ctx, EventRecorded, recorded)
	return recorded.ID, nil
}

func (l *Ledger) recordLocked(ctx context.Context, contest *model.Contest, a *model.Attempt) (model.Attempt, error) {
	now := l.clock.Now()
	if clock.Phase(*contest, now) != model.PhaseRunning {
		return model.Attempt{}, ErrContestClosed
	}

	history, err := l.store.Triple(ctx, a.Key())
	if err != nil {
		return model.Attempt{}, err
	}
	var seq int64
	for i := range history {
		h := &history[i]
		if h.Seq > seq {
			seq = h.Seq
		}
		if a.Mode != model.ModeSubmit || h.Mode != model.ModeSubmit {
			continue
		}
		if h.Accepted() {
			return model.Attempt{}, ErrDuplicateSubmit
		}
		if h.Verdict == model.VerdictPending {
			return model.Attempt{}, ErrSubmissionInFlight
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Seq = seq + 1
	a.SubmittedAt = now
	if err := l.store.Append(ctx, a); err != nil {
		return model.Attempt{}, err
	}
	return a.Clone(), nil
}

func validate(a *model.Attempt) error {
	if a == nil || a.ContestID == "" || a.ContestantID == "" || a.ProblemID == "" {
		return ErrInvalidAttempt
	}
	switch a.Mode {
	case model.ModeSubmit:
		if a.Verdict != "" && a.Verdict != model.VerdictPending {
			return ErrInvalidAttempt
		}
		a.Verdict = model.VerdictPending
	case model.ModeRun:
		if a.Verdict == "" {
			a.Verdict = model.VerdictPending
		}
	default:
		return ErrInvalidAttempt
	}
	return nil
}

// Resolve applies the final verdict to a pending attempt. A passed verdict
// that would give its triple a second accepted submission is stored as failed
// with ErrorDuplicateAccept and reported as ErrInvariantViolation together
// with the stored attempt.
func (l *Ledger) Resolve(ctx context.Context, attemptID string, outcome model.Outcome) (*model.Attempt, error) {
	if !outcome.Verdict.Final() {
		return nil, ErrInvalidAttempt
	}
	current, err := l.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, current.Key())
	if err != nil {
		return nil, err
	}
	resolved, violation, err := l.resolveLocked(ctx, current, outcome)
	unlock()
	if err != nil {
		return nil, err
	}

	l.notify(ctx, EventResolved, resolved.Clone())
	if violation {
		logger.Error(ctx, "second accepted submission rejected",
			zap.Bool("operator_review", true),
			zap.String("attempt_id", resolved.ID),
			zap.String("contest_id", resolved.ContestID),
			zap.String("contestant_id", resolved.ContestantID),
			zap.String("problem_id", resolved.ProblemID),
		)
		return resolved, ErrInvariantViolation
	}
	return resolved, nil
}

func (l *Ledger) resolveLocked(ctx context.Context, current *model.Attempt, outcome model.Outcome) (*model.Attempt, bool, error) {
	if outcome.Verdict == model.VerdictPassed && current.Mode == model.ModeSubmit {
		history, err := l.store.Triple(ctx, current.Key())
		if err != nil {
			return nil, false, err
		}
		for i := range history {
			if history[i].ID != current.ID && history[i].Accepted() {
				outcome = duplicateOutcome(outcome)
				break
			}
		}
	}

	violation := outcome.ErrorKind == model.ErrorDuplicateAccept
	resolved, err := l.store.Resolve(ctx, current.ID, outcome, l.clock.Now())
	if errors.Is(err, ErrDuplicateAccept) {
		violation = true
		resolved, err = l.store.Resolve(ctx, current.ID, duplicateOutcome(outcome), l.clock.Now())
	}
	if err != nil {
		return nil, false, err
	}
	return resolved, violation, nil
}

func duplicateOutcome(o model.Outcome) model.Outcome {
	return model.Outcome{
		Verdict:      model.VerdictFailed,
		Results:      o.Results,
		ErrorKind:    model.ErrorDuplicateAccept,
		ErrorMessage: "an accepted submission already exists for this problem",
	}
}

// Get returns one attempt by id.
func (l *Ledger) Get(ctx context.Context, attemptID string) (*model.Attempt, error) {
	return l.store.Get(ctx, attemptID)
}

// History returns the triple's attempts in Seq order. The slice is a fresh copy.
func (l *Ledger) History(ctx context.Context, contestID, contestantID, problemID string) ([]model.Attempt, error) {
	return l.store.Triple(ctx, model.TripleKey{ContestID: contestID, ContestantID: contestantID, ProblemID: problemID})
}

// FirstAcceptedSubmitTime reports when the triple's accepted submission was made.
func (l *Ledger) FirstAcceptedSubmitTime(ctx context.Context, contestID, contestantID, problemID string) (time.Time, bool, error) {
	history, err := l.History(ctx, contestID, contestantID, problemID)
	if err != nil {
		return time.Time{}, false, err
	}
	for i := range history {
		if history[i].Accepted() {
			return history[i].SubmittedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// SubmitAttemptCount counts submit-mode attempts regardless of verdict.
func (l *Ledger) SubmitAttemptCount(ctx context.Context, contestID, contestantID, problemID string) (int, error) {
	history, err := l.History(ctx, contestID, contestantID, problemID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range history {
		if history[i].Mode == model.ModeSubmit {
			n++
		}
	}
	return n, nil
}

// ContestAttempts is a snapshot of every attempt in the contest.
func (l *Ledger) ContestAttempts(ctx context.Context, contestID string) ([]model.Attempt, error) {
	return l.store.Contest(ctx, contestID)
}

func (l *Ledger) ContestantAttempts(ctx context.Context, contestID, contestantID string) ([]model.Attempt, error) {
	return l.store.Contestant(ctx, contestID, contestantID)
}

// HasPending reports whether any attempt in the contest still awaits a verdict.
func (l *Ledger) HasPending(ctx context.Context, contestID string) (bool, error) {
	return l.store.HasPending(ctx, contestID)
}

// ExpireStale fails pending attempts submitted more than olderThan ago. It
// recovers attempts orphaned by a crash between Record and Resolve.
func (l *Ledger) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := l.store.PendingBefore(ctx, l.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		_, err := l.Resolve(ctx, stale[i].ID, model.Outcome{
			Verdict:      model.VerdictFailed,
			ErrorKind:    model.ErrorJudgeInterrupted,
			ErrorMessage: "judging did not complete",
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrAttemptResolved):
		default:
			return expired, err
		}
	}
	return expired, nil
}
