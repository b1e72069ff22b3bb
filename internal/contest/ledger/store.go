package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/contest/model"
)

// Store persists attempts. The Ledger serializes writes per triple; stores only
// need to keep readers from observing torn writes. Listing methods return
// attempts ordered by SubmittedAt then Seq.
type Store interface {
	Append(ctx context.Context, a *model.Attempt) error
	Resolve(ctx context.Context, id string, outcome model.Outcome, judgedAt time.Time) (*model.Attempt, error)
	Get(ctx context.Context, id string) (*model.Attempt, error)
	Triple(ctx context.Context, key model.TripleKey) ([]model.Attempt, error)
	Contest(ctx context.Context, contestID string) ([]model.Attempt, error)
	Contestant(ctx context.Context, contestID, contestantID string) ([]model.Attempt, error)
	PendingBefore(ctx context.Context, before time.Time) ([]model.Attempt, error)
	HasPending(ctx context.Context, contestID string) (bool, error)
}

// MemoryStore keeps attempts in process. Each triple's log is an immutable
// slice swapped on write, so readers never take a lock.
type MemoryStore struct {
	contests sync.Map // contestID -> *sync.Map (TripleKey -> *tripleLog)
	byID     sync.Map // attempt id -> TripleKey
}

type tripleLog struct {
	mu       sync.Mutex
	attempts atomic.Pointer[[]model.Attempt]
}

func (l *tripleLog) load() []model.Attempt {
	if p := l.attempts.Load(); p != nil {
		return *p
	}
	return nil
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) log(key model.TripleKey, create bool) *tripleLog {
	var triples *sync.Map
	if v, ok := s.contests.Load(key.ContestID); ok {
		triples = v.(*sync.Map)
	} else if create {
		v, _ := s.contests.LoadOrStore(key.ContestID, &sync.Map{})
		triples = v.(*sync.Map)
	} else {
		return nil
	}
	if v, ok := triples.Load(key); ok {
		return v.(*tripleLog)
	}
	if !create {
		return nil
	}
	v, _ := triples.LoadOrStore(key, &tripleLog{})
	return v.(*tripleLog)
}

func (s *MemoryStore) Append(_ context.Context, a *model.Attempt) error {
	l := s.log(a.Key(), true)
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.load()
	if a.Accepted() {
		for i := range old {
			if old[i].Accepted() {
				return ErrDuplicateAccept
			}
		}
	}
	next := make([]model.Attempt, len(old), len(old)+1)
	copy(next, old)
	next = append(next, a.Clone())
	l.attempts.Store(&next)
	s.byID.Store(a.ID, a.Key())
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, outcome model.Outcome, judgedAt time.Time) (*model.Attempt, error) {
	v, ok := s.byID.Load(id)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	key := v.(model.TripleKey)
	l := s.log(key, false)
	if l == nil {
		return nil, ErrAttemptNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.load()
	idx := -1
	for i := range old {
		if old[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return nil, ErrAttemptNotFound
	}
	if old[idx].Verdict.Final() {
		return nil, ErrAttemptResolved
	}
	if outcome.Verdict == model.VerdictPassed && old[idx].Mode == model.ModeSubmit {
		for i := range old {
			if i != idx && old[i].Accepted() {
				return nil, ErrDuplicateAccept
			}
		}
	}

	next := make([]model.Attempt, len(old))
	copy(next, old)
	updated := old[idx].Clone()
	applyOutcome(&updated, outcome, judgedAt)
	next[idx] = updated
	l.attempts.Store(&next)

	out := updated.Clone()
	return &out, nil
}

func applyOutcome(a *model.Attempt, outcome model.Outcome, judgedAt time.Time) {
	a.Verdict = outcome.Verdict
	a.Results = append([]model.CaseResult(nil), outcome.Results...)
	a.ErrorKind = outcome.ErrorKind
	a.ErrorMessage = outcome.ErrorMessage
	t := judgedAt
	a.JudgedAt = &t
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Attempt, error) {
	v, ok := s.byID.Load(id)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	l := s.log(v.(model.TripleKey), false)
	if l == nil {
		return nil, ErrAttemptNotFound
	}
	for _, a := range l.load() {
		if a.ID == id {
			out := a.Clone()
			return &out, nil
		}
	}
	return nil, ErrAttemptNotFound
}

func (s *MemoryStore) Triple(_ context.Context, key model.TripleKey) ([]model.Attempt, error) {
	l := s.log(key, false)
	if l == nil {
		return nil, nil
	}
	return cloneAll(l.load()), nil
}

func (s *MemoryStore) Contest(_ context.Context, contestID string) ([]model.Attempt, error) {
	return s.collect(contestID, func(model.TripleKey) bool { return true }), nil
}

func (s *MemoryStore) Contestant(_ context.Context, contestID, contestantID string) ([]model.Attempt, error) {
	return s.collect(contestID, func(k model.TripleKey) bool { return k.ContestantID == contestantID }), nil
}

func (s *MemoryStore) PendingBefore(_ context.Context, before time.Time) ([]model.Attempt, error) {
	var out []model.Attempt
	s.contests.Range(func(_, v any) bool {
		v.(*sync.Map).Range(func(_, lv any) bool {
			for _, a := range lv.(*tripleLog).load() {
				if a.Verdict == model.VerdictPending && a.SubmittedAt.Before(before) {
					out = append(out, a.Clone())
				}
			}
			return true
		})
		return true
	})
	sortAttempts(out)
	return out, nil
}

func (s *MemoryStore) HasPending(_ context.Context, contestID string) (bool, error) {
	v, ok := s.contests.Load(contestID)
	if !ok {
		return false, nil
	}
	found := false
	v.(*sync.Map).Range(func(_, lv any) bool {
		for _, a := range lv.(*tripleLog).load() {
			if a.Verdict == model.VerdictPending {
				found = true
				return false
			}
		}
		return true
	})
	return found, nil
}

func (s *MemoryStore) collect(contestID string, match func(model.TripleKey) bool) []model.Attempt {
	v, ok := s.contests.Load(contestID)
	if !ok {
		return nil
	}
	var out []model.Attempt
	v.(*sync.Map).Range(func(k, lv any) bool {
		if match(k.(model.TripleKey)) {
			out = append(out, cloneAll(lv.(*tripleLog).load())...)
		}
		return true
	})
	sortAttempts(out)
	return out
}

func cloneAll(in []model.Attempt) []model.Attempt {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Attempt, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func sortAttempts(list []model.Attempt) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].SubmittedAt.Before(list[j].SubmittedAt)
		}
		if list[i].ContestantID != list[j].ContestantID {
			return list[i].ContestantID < list[j].ContestantID
		}
		if list[i].ProblemID != list[j].ProblemID {
			return list[i].ProblemID < list[j].ProblemID
		}
		return list[i].Seq < list[j].Seq
	})
}

var _ Store = (*MemoryStore)(nil)
