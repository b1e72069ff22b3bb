// Package leaderboard builds ranked standings from the attempt ledger and
// caches them per contest until the next ledger write.
package leaderboard

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/common/cache"
	"arena/internal/contest/clock"
	"arena/internal/contest/ledger"
	"arena/internal/contest/model"
	"arena/internal/contest/scoring"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultKeyPrefix = "contest:rankings:"
	defaultFinalTTL  = 7 * 24 * time.Hour
)

// AttemptSource is the read side of the ledger.
type AttemptSource interface {
	ContestAttempts(ctx context.Context, contestID string) ([]model.Attempt, error)
	HasPending(ctx context.Context, contestID string) (bool, error)
}

// Config controls availability and the shared final-board cache.
type Config struct {
	LiveRankings bool          `yaml:"liveRankings"`
	FinalTTL     time.Duration `yaml:"finalTTL"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

type Builder struct {
	contests ledger.ContestSource
	attempts AttemptSource
	engine   scoring.Engine
	clock    clock.Clock
	cache    cache.Cache
	cfg      Config

	group singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]*model.Rankings

	generations sync.Map // contestID -> *atomic.Uint64

	subsMu sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
}

// NewBuilder returns a Builder. c may be nil, in which case final boards are
// only cached in process.
func NewBuilder(contests ledger.ContestSource, attempts AttemptSource, engine scoring.Engine, clk clock.Clock, c cache.Cache, cfg Config) *Builder {
	if clk == nil {
		clk = clock.System
	}
	if cfg.FinalTTL <= 0 {
		cfg.FinalTTL = defaultFinalTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Builder{
		contests:  contests,
		attempts:  attempts,
		engine:    engine,
		clock:     clk,
		cache:     c,
		cfg:       cfg,
		snapshots: make(map[string]*model.Rankings),
		subs:      make(map[string]map[chan struct{}]struct{}),
	}
}

// LiveRankings reports whether running contests expose a snapshot.
func (b *Builder) LiveRankings() bool {
	return b.cfg.LiveRankings
}

// Rankings returns the contest's ranked board. It answers RankingNotAvailable
// while the board is not meant to be shown: before the start, while running
// unless live rankings are enabled, and after the end while verdicts are
// still outstanding.
func (b *Builder) Rankings(ctx context.Context, contestID string) (*model.Rankings, error) {
	contest, err := b.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	phase := clock.Phase(*contest, b.clock.Now())
	switch phase {
	case model.PhaseUpcoming:
		return nil, notAvailable(phase)
	case model.PhaseRunning:
		if !b.cfg.LiveRankings {
			return nil, notAvailable(phase)
		}
	case model.PhaseFinished:
		pending, err := b.attempts.HasPending(ctx, contestID)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, notAvailable(phase).WithDetail("pending", true)
		}
		if cached := b.loadFinal(ctx, contestID); cached != nil {
			return cached, nil
		}
	}

	gen := b.generation(contestID)
	if snap := b.snapshot(contestID, gen, phase); snap != nil {
		return snap, nil
	}

	v, err, _ := b.group.Do(contestID+"@"+strconv.FormatUint(gen, 10)+"@"+string(phase), func() (interface{}, error) {
		return b.build(ctx, contest, phase, gen)
	})
	if err != nil {
		return nil, err
	}
	return clone(v.(*model.Rankings)), nil
}

func notAvailable(phase model.Phase) *appErr.Error {
	return appErr.New(appErr.RankingNotAvailable).WithDetail("phase", phase)
}

func (b *Builder) build(ctx context.Context, contest *model.Contest, phase model.Phase, gen uint64) (*model.Rankings, error) {
	attempts, err := b.attempts.ContestAttempts(ctx, contest.ID)
	if err != nil {
		return nil, err
	}
	entries := scoring.Rank(b.engine.ScoreContest(contest, attempts))
	board := &model.Rankings{
		ContestID:   contest.ID,
		Phase:       phase,
		Final:       phase == model.PhaseFinished,
		ProblemIDs:  append([]string(nil), contest.ProblemIDs...),
		Entries:     entries,
		GeneratedAt: b.clock.Now(),
		Revision:    gen,
	}

	b.mu.Lock()
	if cur, ok := b.snapshots[contest.ID]; !ok || cur.Revision <= gen {
		b.snapshots[contest.ID] = board
	}
	b.mu.Unlock()

	if board.Final {
		b.storeFinal(ctx, board)
	}
	logger.Debug(ctx, "rankings rebuilt",
		zap.String("contest_id", contest.ID),
		zap.String("phase", string(phase)),
		zap.Int("entries", len(entries)),
		zap.Uint64("revision", gen),
	)
	return board, nil
}

func (b *Builder) snapshot(contestID string, gen uint64, phase model.Phase) *model.Rankings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snapshots[contestID]
	if !ok || snap.Revision != gen || snap.Phase != phase {
		return nil
	}
	return clone(snap)
}

func (b *Builder) finalKey(contestID string) string {
	return b.cfg.KeyPrefix + contestID
}

func (b *Builder) loadFinal(ctx context.Context, contestID string) *model.Rankings {
	if b.cache == nil {
		return nil
	}
	raw, err := b.cache.Get(ctx, b.finalKey(contestID))
	if err != nil {
		logger.Warn(ctx, "read cached rankings failed", zap.String("contest_id", contestID), zap.Error(err))
		return nil
	}
	if raw == "" {
		return nil
	}
	var board model.Rankings
	if err := json.Unmarshal([]byte(raw), &board); err != nil {
		logger.Warn(ctx, "decode cached rankings failed", zap.String("contest_id", contestID), zap.Error(err))
		return nil
	}
	return &board
}

func (b *Builder) storeFinal(ctx context.Context, board *model.Rankings) {
	if b.cache == nil {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		logger.Warn(ctx, "encode rankings failed", zap.String("contest_id", board.ContestID), zap.Error(err))
		return
	}
	if err := b.cache.Set(ctx, b.finalKey(board.ContestID), string(data), cache.JitterTTL(b.cfg.FinalTTL)); err != nil {
		logger.Warn(ctx, "cache final rankings failed", zap.String("contest_id", board.ContestID), zap.Error(err))
	}
}

func (b *Builder) generation(contestID string) uint64 {
	if v, ok := b.generations.Load(contestID); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// Invalidate drops the contest's snapshot and wakes stream subscribers.
func (b *Builder) Invalidate(contestID string) {
	v, _ := b.generations.LoadOrStore(contestID, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)

	b.subsMu.Lock()
	for ch := range b.subs[contestID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.subsMu.Unlock()
}

// AttemptChanged makes the builder a ledger listener.
func (b *Builder) AttemptChanged(_ context.Context, ev ledger.Event) {
	b.Invalidate(ev.Attempt.ContestID)
}

// Subscribe returns a channel signalled after each invalidation of contestID.
// Signals coalesce; the returned func unsubscribes.
func (b *Builder) Subscribe(contestID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.subsMu.Lock()
	set, ok := b.subs[contestID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[contestID] = set
	}
	set[ch] = struct{}{}
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs[contestID], ch)
			if len(b.subs[contestID]) == 0 {
				delete(b.subs, contestID)
			}
			b.subsMu.Unlock()
		})
	}
}

func clone(r *model.Rankings) *model.Rankings {
	out := *r
	out.ProblemIDs = append([]string(nil), r.ProblemIDs...)
	out.Entries = make([]model.ContestantScore, len(r.Entries))
	for i, e := range r.Entries {
		e.Problems = append([]model.ProblemScore(nil), e.Problems...)
		out.Entries[i] = e
	}
	return &out
}

var _ ledger.Listener = (*Builder)(nil)
