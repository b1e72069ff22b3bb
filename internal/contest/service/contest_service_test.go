package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena/internal/common/mq"
	"arena/internal/contest/catalog"
	"arena/internal/contest/clock"
	"arena/internal/contest/gate"
	"arena/internal/contest/judge"
	"arena/internal/contest/leaderboard"
	"arena/internal/contest/ledger"
	"arena/internal/contest/model"
	"arena/internal/contest/repository"
	"arena/internal/contest/scoring"
	"arena/internal/contest/service"
	"arena/internal/testutil"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type passJudge struct{ pass bool }

func (j passJudge) Evaluate(_ context.Context, req judge.Request) (*judge.Result, error) {
	return &judge.Result{Passed: j.pass, Cases: make([]model.CaseResult, len(req.TestCases))}, nil
}

type fixture struct {
	clock   *clock.Manual
	repo    *repository.MemoryContestRepository
	ledger  *ledger.Ledger
	board   *leaderboard.Builder
	service *service.ContestService
}

var (
	organizer = service.Caller{UserID: "org", Organizer: true}
	alice     = service.Caller{UserID: "alice"}
	bob       = service.Caller{UserID: "bob"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(testutil.T0.Add(-time.Hour))
	repo := repository.NewMemoryContestRepository()
	l, err := ledger.New(ledger.Config{Contests: repo, Clock: clk})
	testutil.AssertNoError(t, err)
	problems := catalog.NewStatic(
		model.Problem{ID: "p1", Title: "Two Sum", Difficulty: "easy", TestCases: []model.TestCase{{Input: "1", Expected: "1", Example: true}}},
		model.Problem{ID: "p2", Title: "Paths", Difficulty: "hard", TestCases: []model.TestCase{{Input: "2", Expected: "2"}}},
	)
	g, err := gate.New(gate.Config{Contests: repo, Ledger: l, Catalog: problems, Judge: passJudge{pass: true}, Clock: clk, PersistRuns: true})
	testutil.AssertNoError(t, err)
	board := leaderboard.NewBuilder(repo, l, scoring.Engine{}, clk, nil, leaderboard.Config{})
	l.AddListener(board)

	svc, err := service.NewContestService(service.Config{
		Contests:    repo,
		Attempts:    l,
		Gate:        g,
		Leaderboard: board,
		Catalog:     problems,
		Clock:       clk,
	})
	testutil.AssertNoError(t, err)
	return &fixture{clock: clk, repo: repo, ledger: l, board: board, service: svc}
}

func (f *fixture) create(t *testing.T) *model.Contest {
	t.Helper()
	c, err := f.service.CreateContest(context.Background(), organizer, service.CreateContestInput{
		Title:      "Spring Cup 2026!",
		StartTime:  testutil.T0,
		EndTime:    testutil.T0.Add(2 * time.Hour),
		ProblemIDs: []string{"p1", "p2"},
	})
	testutil.AssertNoError(t, err)
	return c
}

func assertCode(t *testing.T, err error, want appErr.ErrorCode) {
	t.Helper()
	if got := appErr.GetCode(err); got != want {
		t.Fatalf("code = %v (%v), want %v", got, err, want)
	}
}

func TestCreateContest(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)

	testutil.AssertEqual(t, c.Slug, "spring-cup-2026")
	testutil.AssertEqual(t, len(c.RoomCode), 8)
	testutil.AssertEqual(t, c.CreatedBy, "org")
	stored, err := f.repo.Get(context.Background(), c.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.RoomCode, c.RoomCode)
}

func TestCreateContestValidation(t *testing.T) {
	valid := func() service.CreateContestInput {
		return service.CreateContestInput{
			Title:      "Cup",
			StartTime:  testutil.T0,
			EndTime:    testutil.T0.Add(time.Hour),
			ProblemIDs: []string{"p1"},
		}
	}
	cases := []struct {
		name   string
		caller service.Caller
		mutate func(*service.CreateContestInput)
		want   appErr.ErrorCode
	}{
		{name: "contestant", caller: alice, mutate: func(*service.CreateContestInput) {}, want: appErr.PermissionDenied},
		{name: "empty title", caller: organizer, mutate: func(in *service.CreateContestInput) { in.Title = " " }, want: appErr.ValidationFailed},
		{name: "end before start", caller: organizer, mutate: func(in *service.CreateContestInput) { in.EndTime = in.StartTime }, want: appErr.ValidationFailed},
		{name: "start in past", caller: organizer, mutate: func(in *service.CreateContestInput) {
			in.StartTime = testutil.T0.Add(-2 * time.Hour)
		}, want: appErr.ValidationFailed},
		{name: "no problems", caller: organizer, mutate: func(in *service.CreateContestInput) { in.ProblemIDs = nil }, want: appErr.ValidationFailed},
		{name: "duplicate problem", caller: organizer, mutate: func(in *service.CreateContestInput) { in.ProblemIDs = []string{"p1", "p1"} }, want: appErr.ValidationFailed},
		{name: "unknown problem", caller: organizer, mutate: func(in *service.CreateContestInput) { in.ProblemIDs = []string{"p404"} }, want: appErr.ProblemNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid()
			tc.mutate(&in)
			_, err := f.service.CreateContest(context.Background(), tc.caller, in)
			assertCode(t, err, tc.want)
		})
	}
}

func TestListContestsByPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	testutil.AssertNoError(t, f.repo.Create(ctx, &model.Contest{
		ID: "old", Title: "Old", RoomCode: "OLD", CreatedBy: "org",
		StartTime: testutil.T0.Add(-48 * time.Hour), EndTime: testutil.T0.Add(-47 * time.Hour), ProblemIDs: []string{"p1"},
	}))
	testutil.AssertNoError(t, f.repo.Create(ctx, &model.Contest{
		ID: "live", Title: "Live", RoomCode: "LIVE", CreatedBy: "other",
		StartTime: testutil.T0.Add(-2 * time.Hour), EndTime: testutil.T0.Add(time.Hour), ProblemIDs: []string{"p1"},
	}))

	list, err := f.service.ListContests(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(list.Upcoming), 1)
	testutil.AssertEqual(t, len(list.Running), 1)
	testutil.AssertEqual(t, len(list.Ended), 1)
	testutil.AssertEqual(t, list.Upcoming[0].RoomCode, "")

	mine, err := f.service.ListCreated(ctx, organizer)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(mine), 2)
	testutil.AssertTrue(t, mine[0].RoomCode != "", "organizer sees room codes")

	_, err = f.service.ListCreated(ctx, alice)
	assertCode(t, err, appErr.PermissionDenied)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	_, err := f.service.Join(ctx, alice, "WRONGCOD")
	assertCode(t, err, appErr.InvalidRoomCode)
	_, err = f.service.Join(ctx, alice, "")
	assertCode(t, err, appErr.ValidationFailed)

	joined, err := f.service.Join(ctx, alice, " "+c.RoomCode+" ")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, joined.IsParticipant("alice"), "alice registered")

	_, err = f.service.Join(ctx, alice, c.RoomCode)
	assertCode(t, err, appErr.AlreadyRegistered)

	f.clock.Set(testutil.T0.Add(time.Hour))
	_, err = f.service.Join(ctx, bob, c.RoomCode)
	testutil.AssertNoError(t, err)

	f.clock.Set(testutil.T0.Add(3 * time.Hour))
	_, err = f.service.Join(ctx, service.Caller{UserID: "carol"}, c.RoomCode)
	assertCode(t, err, appErr.ContestEnded)
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)

	_, err := f.service.Detail(ctx, alice, c.ID)
	assertCode(t, err, appErr.NotRegistered)
	_, err = f.service.Join(ctx, alice, c.RoomCode)
	testutil.AssertNoError(t, err)

	upcoming, err := f.service.Detail(ctx, alice, c.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, upcoming.Phase, model.PhaseUpcoming)
	testutil.AssertEqual(t, upcoming.SecondsToStart, int64(3600))
	testutil.AssertEqual(t, len(upcoming.Problems), 0)
	testutil.AssertEqual(t, upcoming.Contest.RoomCode, "")

	f.clock.Set(testutil.T0.Add(30 * time.Minute))
	_, err = f.service.Submit(ctx, alice, c.ID, "p1", "print(1)", "python", "")
	testutil.AssertNoError(t, err)

	running, err := f.service.Detail(ctx, alice, c.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, running.Phase, model.PhaseRunning)
	testutil.AssertEqual(t, running.SecondsRemaining, int64(90*60))
	testutil.AssertEqual(t, len(running.Problems), 2)
	testutil.AssertEqual(t, running.Problems[0].Title, "Two Sum")
	testutil.AssertTrue(t, running.Problems[0].Solved, "p1 solved")
	testutil.AssertEqual(t, running.Problems[0].LastVerdict, model.VerdictPassed)
	testutil.AssertEqual(t, running.Problems[1].Attempts, 0)
	testutil.AssertEqual(t, running.ProblemsSolved, 1)
	testutil.AssertEqual(t, running.Penalty, int64(30))

	org, err := f.service.Detail(ctx, organizer, c.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, !org.Registered, "organizer is not a participant")
	testutil.AssertEqual(t, org.Contest.RoomCode, c.RoomCode)
}

func TestSubmissionsAndRankings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)
	for _, who := range []service.Caller{alice, bob} {
		_, err := f.service.Join(ctx, who, c.RoomCode)
		testutil.AssertNoError(t, err)
	}
	f.clock.Set(testutil.T0.Add(10 * time.Minute))
	_, err := f.service.Run(ctx, alice, c.ID, "p1", "x", "go")
	testutil.AssertNoError(t, err)
	_, err = f.service.Submit(ctx, alice, c.ID, "p1", "x", "go", "")
	testutil.AssertNoError(t, err)

	own, err := f.service.Submissions(ctx, alice, c.ID, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(own), 2)

	_, err = f.service.Submissions(ctx, bob, c.ID, "alice")
	assertCode(t, err, appErr.PermissionDenied)
	viaOrg, err := f.service.Submissions(ctx, organizer, c.ID, "alice")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(viaOrg), 2)
	none, err := f.service.Submissions(ctx, bob, c.ID, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(none), 0)

	_, err = f.service.Rankings(ctx, c.ID)
	assertCode(t, err, appErr.RankingNotAvailable)

	f.clock.Set(testutil.T0.Add(3 * time.Hour))
	board, err := f.service.Rankings(ctx, c.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, board.Entries[0].ContestantID, "alice")
	testutil.AssertEqual(t, board.Entries[1].ContestantID, "bob")
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(contestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, contestID)
}

type capture struct {
	messages []*mq.Message
}

func (c *capture) Publish(_ context.Context, _ string, m *mq.Message) error {
	c.messages = append(c.messages, m)
	return nil
}

func TestAttemptEventConsumer(t *testing.T) {
	ctx := context.Background()
	out := &capture{}
	local := repository.NewMQAttemptEventPublisher(out, "attempts", "node-a", time.Second)
	remote := repository.NewMQAttemptEventPublisher(out, "attempts", "node-b", time.Second)
	ev := ledger.Event{Kind: ledger.EventResolved, Attempt: model.Attempt{ID: "a1", ContestID: "c1"}}
	testutil.AssertNoError(t, local.Publish(ctx, ev))
	testutil.AssertNoError(t, remote.Publish(ctx, ev))

	target := &recordingInvalidator{}
	consumer := service.NewAttemptEventConsumer(nil, target, "node-a")
	for _, m := range out.messages {
		testutil.AssertNoError(t, consumer.HandleMessage(ctx, m))
	}
	testutil.AssertNoError(t, consumer.HandleMessage(ctx, &mq.Message{Body: []byte("garbage")}))

	testutil.AssertEqual(t, len(target.ids), 1)
	testutil.AssertEqual(t, target.ids[0], "c1")

	err := consumer.Subscribe(ctx, "attempts", "g", nil)
	testutil.AssertTrue(t, err != nil, "subscribe without a queue fails")
}

type fakeExpirer struct {
	calls int
	n     int
	err   error
	seen  time.Duration
}

func (f *fakeExpirer) ExpireStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.calls++
	f.seen = olderThan
	return f.n, f.err
}

func TestSweeper(t *testing.T) {
	exp := &fakeExpirer{n: 3}
	s := service.NewSweeper(exp, time.Millisecond, 5*time.Minute)
	testutil.AssertEqual(t, s.SweepOnce(context.Background()), 3)
	testutil.AssertEqual(t, exp.seen, 5*time.Minute)

	exp.err = errors.New("db down")
	exp.n = 0
	testutil.AssertEqual(t, s.SweepOnce(context.Background()), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	testutil.AssertNoError(t, s.Run(ctx))
}

func TestSweeperRecoversStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t)
	_, err := f.service.Join(ctx, alice, c.RoomCode)
	testutil.AssertNoError(t, err)

	f.clock.Set(testutil.T0.Add(time.Minute))
	id, err := f.ledger.Record(ctx, &model.Attempt{ContestID: c.ID, ContestantID: "alice", ProblemID: "p2", Mode: model.ModeSubmit})
	testutil.AssertNoError(t, err)

	f.clock.Set(testutil.T0.Add(3 * time.Hour))
	_, err = f.service.Rankings(ctx, c.ID)
	assertCode(t, err, appErr.RankingNotAvailable)

	core, logs := observer.New(zapcore.WarnLevel)
	defer logger.Replace(zap.New(core))()
	testutil.AssertEqual(t, service.NewSweeper(f.ledger, time.Minute, 10*time.Minute).SweepOnce(ctx), 1)
	testutil.AssertEqual(t, logs.FilterMessage("expired stale pending attempts").Len(), 1)
	stale, err := f.ledger.Get(ctx, id)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stale.ErrorKind, model.ErrorJudgeInterrupted)

	_, err = f.service.Rankings(ctx, c.ID)
	testutil.AssertNoError(t, err)
}
