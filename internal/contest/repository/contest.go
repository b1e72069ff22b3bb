package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"arena/internal/common/cache"
	"arena/internal/common/db"
	"arena/internal/contest/clock"
	"arena/internal/contest/model"
	appErr "arena/pkg/errors"
)

const (
	defaultContestCacheTTL      = 10 * time.Minute
	defaultContestCacheEmptyTTL = 30 * time.Second
	contestCacheKeyPrefix       = "contest:meta:"
)

var errContestMissing = errors.New("contest not found")

// ContestRepository stores contest metadata, problem lists and rosters.
type ContestRepository interface {
	Create(ctx context.Context, contest *model.Contest) error
	Get(ctx context.Context, contestID string) (*model.Contest, error)
	GetByRoomCode(ctx context.Context, roomCode string) (*model.Contest, error)
	List(ctx context.Context) ([]model.Contest, error)
	ListByCreator(ctx context.Context, userID string) ([]model.Contest, error)
	AddParticipant(ctx context.Context, contestID, contestantID string) error
}

// SQLContestRepository implements ContestRepository on the contests,
// contest_problems and contest_participants tables with a cache-aside read path.
type SQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	clock    clock.Clock
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSQLContestRepository creates a contest repository. cacheClient may be nil;
// clk defaults to the system clock.
func NewSQLContestRepository(database db.Database, cacheClient cache.Cache, clk clock.Clock, ttl, emptyTTL time.Duration) *SQLContestRepository {
	if clk == nil {
		clk = clock.System
	}
	if ttl <= 0 {
		ttl = defaultContestCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultContestCacheEmptyTTL
	}
	return &SQLContestRepository{db: database, cache: cacheClient, clock: clk, ttl: ttl, emptyTTL: emptyTTL}
}

const contestColumns = "id, slug, title, description, start_time, end_time, room_code, created_by, created_at"

// Create inserts the contest and its ordered problem list in one transaction.
func (r *SQLContestRepository) Create(ctx context.Context, contest *model.Contest) error {
	if contest == nil || contest.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	err := r.write(ctx, contest.ID, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			return insertContest(ctx, tx, contest)
		})
	})
	if err != nil {
		if key, ok := r.db.Dialect().UniqueViolation(err); ok {
			if strings.Contains(key, "room_code") {
				return appErr.Wrapf(err, appErr.RecordAlreadyExists, "room code already in use")
			}
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "contest already exists")
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "create contest failed")
	}
	return nil
}

func insertContest(ctx context.Context, tx db.Transaction, contest *model.Contest) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO contests
		(id, slug, title, description, start_time, end_time, room_code, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		contest.ID,
		contest.Slug,
		contest.Title,
		contest.Description,
		contest.StartTime.UTC(),
		contest.EndTime.UTC(),
		contest.RoomCode,
		contest.CreatedBy,
		contest.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	for i, problemID := range contest.ProblemIDs {
		if _, err := tx.Exec(ctx,
			"INSERT INTO contest_problems (contest_id, position, problem_id) VALUES (?, ?, ?)",
			contest.ID, i, problemID,
		); err != nil {
			return err
		}
	}
	for _, contestantID := range contest.Participants {
		if _, err := tx.Exec(ctx,
			"INSERT INTO contest_participants (contest_id, contestant_id, joined_at) VALUES (?, ?, ?)",
			contest.ID, contestantID, contest.CreatedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the contest with its problems and participants.
func (r *SQLContestRepository) Get(ctx context.Context, contestID string) (*model.Contest, error) {
	if contestID == "" {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	var (
		contest *model.Contest
		err     error
	)
	if r.cache != nil {
		contest, err = cache.GetWithCached[*model.Contest](
			ctx,
			r.cache,
			contestCacheKeyPrefix+contestID,
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(c *model.Contest) bool { return c == nil },
			marshalContest,
			unmarshalContest,
			func(ctx context.Context) (*model.Contest, error) {
				c, err := r.load(ctx, contestID)
				if errors.Is(err, errContestMissing) {
					return nil, nil
				}
				return c, err
			},
		)
	} else {
		contest, err = r.load(ctx, contestID)
		if errors.Is(err, errContestMissing) {
			contest, err = nil, nil
		}
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load contest failed")
	}
	if contest == nil {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	return contest, nil
}

// GetByRoomCode resolves a join code. Unknown codes yield InvalidRoomCode.
func (r *SQLContestRepository) GetByRoomCode(ctx context.Context, roomCode string) (*model.Contest, error) {
	var id string
	err := r.db.QueryRow(ctx, "SELECT id FROM contests WHERE room_code = ? LIMIT 1", strings.ToUpper(roomCode)).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.InvalidRoomCode)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "lookup room code failed")
	}
	return r.Get(ctx, id)
}

func (r *SQLContestRepository) List(ctx context.Context) ([]model.Contest, error) {
	return r.list(ctx, "SELECT id FROM contests ORDER BY start_time DESC")
}

func (r *SQLContestRepository) ListByCreator(ctx context.Context, userID string) ([]model.Contest, error) {
	return r.list(ctx, "SELECT id FROM contests WHERE created_by = ? ORDER BY start_time DESC", userID)
}

func (r *SQLContestRepository) list(ctx context.Context, query string, args ...interface{}) ([]model.Contest, error) {
	ids, err := r.queryStrings(ctx, nil, query, args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contests failed")
	}
	out := make([]model.Contest, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if err != nil {
			if appErr.Is(err, appErr.ContestNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// AddParticipant registers contestantID. Joining twice yields AlreadyRegistered.
func (r *SQLContestRepository) AddParticipant(ctx context.Context, contestID, contestantID string) error {
	err := r.write(ctx, contestID, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx,
			"INSERT INTO contest_participants (contest_id, contestant_id, joined_at) VALUES (?, ?, ?)",
			contestID, contestantID, r.clock.Now().UTC(),
		)
		return err
	})
	if err != nil {
		if _, ok := r.db.Dialect().UniqueViolation(err); ok {
			return appErr.New(appErr.AlreadyRegistered)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "add participant failed")
	}
	return nil
}

func (r *SQLContestRepository) load(ctx context.Context, contestID string) (*model.Contest, error) {
	var out *model.Contest
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		row := tx.QueryRow(ctx, "SELECT "+contestColumns+" FROM contests WHERE id = ? LIMIT 1", contestID)
		c := &model.Contest{}
		var description *string
		if err := row.Scan(
			&c.ID,
			&c.Slug,
			&c.Title,
			&description,
			&c.StartTime,
			&c.EndTime,
			&c.RoomCode,
			&c.CreatedBy,
			&c.CreatedAt,
		); err != nil {
			if db.IsNoRows(err) {
				return errContestMissing
			}
			return err
		}
		if description != nil {
			c.Description = *description
		}
		var err error
		c.ProblemIDs, err = r.queryStrings(ctx, tx,
			"SELECT problem_id FROM contest_problems WHERE contest_id = ? ORDER BY position", contestID)
		if err != nil {
			return err
		}
		c.Participants, err = r.queryStrings(ctx, tx,
			"SELECT contestant_id FROM contest_participants WHERE contest_id = ? ORDER BY joined_at, contestant_id", contestID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// queryStrings reads a single string column, inside tx when one is given.
func (r *SQLContestRepository) queryStrings(ctx context.Context, tx db.Transaction, query string, args ...interface{}) ([]string, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// write runs fn and drops the cached contest once it succeeds.
func (r *SQLContestRepository) write(ctx context.Context, contestID string, fn func(context.Context) error) error {
	if r.cache == nil {
		return fn(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, contestCacheKeyPrefix+contestID, fn)
}

func marshalContest(c *model.Contest) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalContest(data string) (*model.Contest, error) {
	var c model.Contest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MemoryContestRepository keeps contests in process. Used by tests and by the
// service when no database is configured.
type MemoryContestRepository struct {
	mu       sync.RWMutex
	contests map[string]*model.Contest
	rooms    map[string]string
}

func NewMemoryContestRepository() *MemoryContestRepository {
	return &MemoryContestRepository{
		contests: make(map[string]*model.Contest),
		rooms:    make(map[string]string),
	}
}

func (r *MemoryContestRepository) Create(_ context.Context, contest *model.Contest) error {
	if contest == nil || contest.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contests[contest.ID]; ok {
		return appErr.New(appErr.RecordAlreadyExists).WithMessage("contest already exists")
	}
	code := strings.ToUpper(contest.RoomCode)
	if _, ok := r.rooms[code]; ok {
		return appErr.New(appErr.RecordAlreadyExists).WithMessage("room code already in use")
	}
	r.contests[contest.ID] = cloneContest(contest)
	r.rooms[code] = contest.ID
	return nil
}

func (r *MemoryContestRepository) Get(_ context.Context, contestID string) (*model.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contests[contestID]
	if !ok {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	return cloneContest(c), nil
}

func (r *MemoryContestRepository) GetByRoomCode(ctx context.Context, roomCode string) (*model.Contest, error) {
	r.mu.RLock()
	id, ok := r.rooms[strings.ToUpper(roomCode)]
	r.mu.RUnlock()
	if !ok {
		return nil, appErr.New(appErr.InvalidRoomCode)
	}
	return r.Get(ctx, id)
}

func (r *MemoryContestRepository) List(_ context.Context) ([]model.Contest, error) {
	return r.filter(func(*model.Contest) bool { return true }), nil
}

func (r *MemoryContestRepository) ListByCreator(_ context.Context, userID string) ([]model.Contest, error) {
	return r.filter(func(c *model.Contest) bool { return c.CreatedBy == userID }), nil
}

func (r *MemoryContestRepository) filter(keep func(*model.Contest) bool) []model.Contest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Contest, 0, len(r.contests))
	for _, c := range r.contests {
		if keep(c) {
			out = append(out, *cloneContest(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryContestRepository) AddParticipant(_ context.Context, contestID, contestantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contests[contestID]
	if !ok {
		return appErr.New(appErr.ContestNotFound)
	}
	if c.IsParticipant(contestantID) {
		return appErr.New(appErr.AlreadyRegistered)
	}
	c.Participants = append(c.Participants, contestantID)
	return nil
}

func cloneContest(c *model.Contest) *model.Contest {
	out := *c
	out.ProblemIDs = append([]string(nil), c.ProblemIDs...)
	out.Participants = append([]string(nil), c.Participants...)
	return &out
}

var (
	_ ContestRepository = (*SQLContestRepository)(nil)
	_ ContestRepository = (*MemoryContestRepository)(nil)
)
