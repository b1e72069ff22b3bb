package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"arena/internal/contest/catalog"
	"arena/internal/contest/clock"
	"arena/internal/contest/gate"
	"arena/internal/contest/leaderboard"
	"arena/internal/contest/model"
	"arena/internal/contest/repository"
	"arena/internal/contest/scoring"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	roomCodeLength   = 8
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	createRetries    = 3
	maxTitleLength   = 200
)

// AttemptReader is the ledger read side the service needs.
type AttemptReader interface {
	ContestantAttempts(ctx context.Context, contestID, contestantID string) ([]model.Attempt, error)
}

// Caller is the authenticated identity making a request.
type Caller struct {
	UserID    string
	Organizer bool
}

// Config wires the contest service.
type Config struct {
	Contests    repository.ContestRepository
	Attempts    AttemptReader
	Gate        *gate.Gate
	Leaderboard *leaderboard.Builder
	Catalog     catalog.Catalog
	Engine      scoring.Engine
	Clock       clock.Clock
}

// ContestService implements contest management and the contestant arena view.
type ContestService struct {
	contests    repository.ContestRepository
	attempts    AttemptReader
	gate        *gate.Gate
	leaderboard *leaderboard.Builder
	catalog     catalog.Catalog
	engine      scoring.Engine
	clock       clock.Clock
}

func NewContestService(cfg Config) (*ContestService, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.Attempts == nil {
		return nil, fmt.Errorf("attempt reader is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("submission gate is required")
	}
	if cfg.Leaderboard == nil {
		return nil, fmt.Errorf("leaderboard is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	return &ContestService{
		contests:    cfg.Contests,
		attempts:    cfg.Attempts,
		gate:        cfg.Gate,
		leaderboard: cfg.Leaderboard,
		catalog:     cfg.Catalog,
		engine:      cfg.Engine,
		clock:       cfg.Clock,
	}, nil
}

// CreateContestInput is an organizer's request to schedule a contest.
type CreateContestInput struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	ProblemIDs  []string
}

// ContestSummary is a contest as shown in listings.
type ContestSummary struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Slug             string      `json:"slug"`
	StartTime        time.Time   `json:"start_time"`
	EndTime          time.Time   `json:"end_time"`
	Phase            model.Phase `json:"phase"`
	ProblemCount     int         `json:"problem_count"`
	ParticipantCount int         `json:"participant_count"`
	RoomCode         string      `json:"room_code,omitempty"`
}

// ContestList groups contests by phase.
type ContestList struct {
	Upcoming []ContestSummary `json:"upcoming"`
	Running  []ContestSummary `json:"running"`
	Ended    []ContestSummary `json:"ended"`
}

// ProblemState is the caller's own standing on one contest problem.
type ProblemState struct {
	ID          string        `json:"id"`
	Title       string        `json:"title,omitempty"`
	Difficulty  string        `json:"difficulty,omitempty"`
	Solved      bool          `json:"solved"`
	Attempts    int           `json:"attempts"`
	LastVerdict model.Verdict `json:"last_verdict,omitempty"`
	SolveTime   int64         `json:"solve_time,omitempty"`
}

// ContestDetail is the arena view of a contest.
type ContestDetail struct {
	Contest          model.Contest  `json:"contest"`
	Phase            model.Phase    `json:"phase"`
	SecondsToStart   int64          `json:"seconds_to_start"`
	SecondsRemaining int64          `json:"seconds_remaining"`
	Registered       bool           `json:"registered"`
	Problems         []ProblemState `json:"problems"`
	Penalty          int64          `json:"penalty"`
	ProblemsSolved   int            `json:"problems_solved"`
}

// CreateContest validates and stores a new contest with a fresh room code.
func (s *ContestService) CreateContest(ctx context.Context, caller Caller, in CreateContestInput) (*model.Contest, error) {
	if !caller.Organizer {
		return nil, appErr.New(appErr.PermissionDenied).WithMessage("only organizers can create contests")
	}
	if err := s.validateCreate(ctx, in); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	contest := &model.Contest{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Slug:        slug.Make(in.Title),
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		ProblemIDs:  append([]string(nil), in.ProblemIDs...),
		CreatedBy:   caller.UserID,
		CreatedAt:   now.UTC(),
	}

	var lastErr error
	for i := 0; i < createRetries; i++ {
		contest.ID = uuid.NewString()
		code, err := newRoomCode()
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "generate room code failed")
		}
		contest.RoomCode = code
		lastErr = s.contests.Create(ctx, contest)
		if lastErr == nil {
			logger.Info(ctx, "contest created",
				zap.String("contest_id", contest.ID),
				zap.String("created_by", caller.UserID),
				zap.Time("start_time", contest.StartTime),
				zap.Int("problems", len(contest.ProblemIDs)),
			)
			return contest, nil
		}
		if !appErr.Is(lastErr, appErr.RecordAlreadyExists) {
			break
		}
	}
	return nil, appErr.Wrapf(lastErr, appErr.ContestCreateFailed, "create contest failed")
}

func (s *ContestService) validateCreate(ctx context.Context, in CreateContestInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return appErr.ValidationError("title", "required")
	}
	if len(title) > maxTitleLength {
		return appErr.ValidationError("title", "too long")
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return appErr.ValidationError("start_time", "start and end time are required")
	}
	if !in.EndTime.After(in.StartTime) {
		return appErr.ValidationError("end_time", "must be after start_time")
	}
	if !in.StartTime.After(s.clock.Now()) {
		return appErr.ValidationError("start_time", "must be in the future")
	}
	if len(in.ProblemIDs) == 0 {
		return appErr.ValidationError("problem_ids", "at least one problem is required")
	}
	seen := make(map[string]struct{}, len(in.ProblemIDs))
	for _, id := range in.ProblemIDs {
		if strings.TrimSpace(id) == "" {
			return appErr.ValidationError("problem_ids", "empty problem id")
		}
		if _, dup := seen[id]; dup {
			return appErr.ValidationError("problem_ids", "duplicate problem "+id)
		}
		seen[id] = struct{}{}
		if _, err := s.catalog.GetProblem(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func newRoomCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ListContests returns every contest grouped by its phase now.
func (s *ContestService) ListContests(ctx context.Context) (*ContestList, error) {
	contests, err := s.contests.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := &ContestList{Upcoming: []ContestSummary{}, Running: []ContestSummary{}, Ended: []ContestSummary{}}
	for i := range contests {
		summary := summarize(&contests[i], now, false)
		switch summary.Phase {
		case model.PhaseUpcoming:
			out.Upcoming = append(out.Upcoming, summary)
		case model.PhaseRunning:
			out.Running = append(out.Running, summary)
		default:
			out.Ended = append(out.Ended, summary)
		}
	}
	return out, nil
}

// ListCreated returns the contests the caller organizes, room codes included.
func (s *ContestService) ListCreated(ctx context.Context, caller Caller) ([]ContestSummary, error) {
	if !caller.Organizer {
		return nil, appErr.New(appErr.PermissionDenied)
	}
	contests, err := s.contests.ListByCreator(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]ContestSummary, 0, len(contests))
	for i := range contests {
		out = append(out, summarize(&contests[i], now, true))
	}
	return out, nil
}

func summarize(c *model.Contest, now time.Time, withRoom bool) ContestSummary {
	s := ContestSummary{
		ID:               c.ID,
		Title:            c.Title,
		Slug:             c.Slug,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		Phase:            clock.Phase(*c, now),
		ProblemCount:     len(c.ProblemIDs),
		ParticipantCount: len(c.Participants),
	}
	if withRoom {
		s.RoomCode = c.RoomCode
	}
	return s
}

// Join registers the caller through a room code. Joining is open until the
// contest ends.
func (s *ContestService) Join(ctx context.Context, caller Caller, roomCode string) (*model.Contest, error) {
	code := strings.ToUpper(strings.TrimSpace(roomCode))
	if code == "" {
		return nil, appErr.ValidationError("room_code", "required")
	}
	contest, err := s.contests.GetByRoomCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if clock.Phase(*contest, s.clock.Now()) == model.PhaseFinished {
		return nil, appErr.New(appErr.ContestEnded)
	}
	if err := s.contests.AddParticipant(ctx, contest.ID, caller.UserID); err != nil {
		return nil, err
	}
	logger.Info(ctx, "contestant joined", zap.String("contest_id", contest.ID), zap.String("contestant_id", caller.UserID))
	return s.contests.Get(ctx, contest.ID)
}

// Detail returns the arena view for the caller. Only participants and
// organizers see it; problem content is withheld until the start.
func (s *ContestService) Detail(ctx context.Context, caller Caller, contestID string) (*ContestDetail, error) {
	contest, err := s.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	registered := contest.IsParticipant(caller.UserID)
	if !registered && !s.canManage(caller, contest) {
		return nil, appErr.New(appErr.NotRegistered)
	}

	now := s.clock.Now()
	phase := clock.Phase(*contest, now)
	detail := &ContestDetail{
		Contest:          *contest,
		Phase:            phase,
		SecondsToStart:   int64(clock.UntilStart(*contest, now) / time.Second),
		SecondsRemaining: int64(clock.Remaining(*contest, now) / time.Second),
		Registered:       registered,
	}
	if !s.canManage(caller, contest) {
		detail.Contest.RoomCode = ""
		detail.Contest.Participants = nil
	}
	if phase == model.PhaseUpcoming && !s.canManage(caller, contest) {
		detail.Contest.ProblemIDs = nil
		detail.Problems = []ProblemState{}
		return detail, nil
	}

	var attempts []model.Attempt
	if registered {
		attempts, err = s.attempts.ContestantAttempts(ctx, contest.ID, caller.UserID)
		if err != nil {
			return nil, err
		}
	}
	score := s.engine.ScoreContestant(contest, caller.UserID, attempts)
	detail.Penalty = score.Penalty
	detail.ProblemsSolved = score.ProblemsSolved

	detail.Problems = make([]ProblemState, 0, len(contest.ProblemIDs))
	for i, problemID := range contest.ProblemIDs {
		state := ProblemState{ID: problemID}
		if p, err := s.catalog.GetProblem(ctx, problemID); err == nil {
			state.Title = p.Title
			state.Difficulty = p.Difficulty
		} else {
			logger.Warn(ctx, "load contest problem failed", zap.String("problem_id", problemID), zap.Error(err))
		}
		ps := score.Problems[i]
		state.Solved = ps.Solved
		state.Attempts = ps.Attempts
		state.SolveTime = ps.SolveTimeMinutes
		state.LastVerdict = lastSubmitVerdict(attempts, problemID)
		detail.Problems = append(detail.Problems, state)
	}
	return detail, nil
}

func lastSubmitVerdict(attempts []model.Attempt, problemID string) model.Verdict {
	var last model.Verdict
	for i := range attempts {
		if attempts[i].ProblemID == problemID && attempts[i].Mode == model.ModeSubmit {
			last = attempts[i].Verdict
		}
	}
	return last
}

func (s *ContestService) canManage(caller Caller, contest *model.Contest) bool {
	return caller.Organizer && contest.CreatedBy == caller.UserID
}

// Submissions lists a contestant's attempts in a contest. Contestants see
// their own; the contest's organizer may ask for anyone.
func (s *ContestService) Submissions(ctx context.Context, caller Caller, contestID, contestantID string) ([]model.Attempt, error) {
	contest, err := s.contests.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contestantID == "" {
		contestantID = caller.UserID
	}
	if contestantID != caller.UserID && !s.canManage(caller, contest) {
		return nil, appErr.New(appErr.PermissionDenied)
	}
	attempts, err := s.attempts.ContestantAttempts(ctx, contestID, contestantID)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, nil
}

// Rankings returns the contest leaderboard.
func (s *ContestService) Rankings(ctx context.Context, contestID string) (*model.Rankings, error) {
	return s.leaderboard.Rankings(ctx, contestID)
}

// Submit admits a scoring submission for the caller.
func (s *ContestService) Submit(ctx context.Context, caller Caller, contestID, problemID, code, language, idempotencyKey string) (*model.Attempt, error) {
	return s.gate.Submit(ctx, gate.SubmitInput{
		ContestID:      contestID,
		ContestantID:   caller.UserID,
		ProblemID:      problemID,
		Code:           code,
		Language:       language,
		IdempotencyKey: idempotencyKey,
	})
}

// Run judges code against a problem's examples for the caller.
func (s *ContestService) Run(ctx context.Context, caller Caller, contestID, problemID, code, language string) (*gate.RunOutcome, error) {
	return s.gate.Run(ctx, gate.RunInput{
		ContestID:    contestID,
		ContestantID: caller.UserID,
		ProblemID:    problemID,
		Code:         code,
		Language:     language,
	})
}

// Subscribe exposes leaderboard invalidations for the rankings stream.
func (s *ContestService) Subscribe(contestID string) (<-chan struct{}, func()) {
	return s.leaderboard.Subscribe(contestID)
}
