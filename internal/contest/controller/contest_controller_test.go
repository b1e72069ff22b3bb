package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena/internal/common/http/middleware"
	"arena/internal/contest/catalog"
	"arena/internal/contest/clock"
	"arena/internal/contest/controller"
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

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type passJudge struct{}

func (passJudge) Evaluate(_ context.Context, req judge.Request) (*judge.Result, error) {
	return &judge.Result{Passed: true, Cases: make([]model.CaseResult, len(req.TestCases))}, nil
}

type apiResponse struct {
	Code      appErr.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data"`
	Retryable bool             `json:"retryable"`
}

type server struct {
	clock  *clock.Manual
	board  *leaderboard.Builder
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewManual(testutil.T0.Add(-time.Hour))
	repo := repository.NewMemoryContestRepository()
	l, err := ledger.New(ledger.Config{Contests: repo, Clock: clk})
	testutil.AssertNoError(t, err)
	problems := catalog.NewStatic(
		model.Problem{ID: "p1", Title: "Two Sum", TestCases: []model.TestCase{{Input: "1", Expected: "1", Example: true}, {Input: "2", Expected: "2"}}},
	)
	g, err := gate.New(gate.Config{Contests: repo, Ledger: l, Catalog: problems, Judge: passJudge{}, Clock: clk, PersistRuns: true})
	testutil.AssertNoError(t, err)
	board := leaderboard.NewBuilder(repo, l, scoring.Engine{}, clk, nil, leaderboard.Config{})
	l.AddListener(board)
	svc, err := service.NewContestService(service.Config{
		Contests: repo, Attempts: l, Gate: g, Leaderboard: board, Catalog: problems, Clock: clk,
	})
	testutil.AssertNoError(t, err)

	r := gin.New()
	api := r.Group("/api/v1", middleware.IdentityMiddleware(middleware.IdentityConfig{TrustHeaders: true}))
	controller.NewContestController(svc, controller.StreamConfig{RefreshInterval: time.Hour}).Register(api)
	return &server{clock: clk, board: board, router: r}
}

func (s *server) do(t *testing.T, method, path, user, role string, body interface{}, headers ...string) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(testutil.MustMarshalJSON(t, body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
		req.Header.Set("X-User-Role", role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	testutil.MustUnmarshalJSON(t, w.Body.Bytes(), &resp)
	return w.Code, resp
}

// setup creates a contest as the organizer and joins alice; the clock is left
// ten minutes into the contest.
func (s *server) setup(t *testing.T) string {
	t.Helper()
	status, resp := s.do(t, http.MethodPost, "/api/v1/contests", "org", "organizer", map[string]interface{}{
		"title":       "Weekly 1",
		"start_time":  testutil.T0,
		"end_time":    testutil.T0.Add(2 * time.Hour),
		"problem_ids": []string{"p1"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", status, resp.Message)
	}
	var contest model.Contest
	testutil.MustUnmarshalJSON(t, resp.Data, &contest)

	status, resp = s.do(t, http.MethodPost, "/api/v1/contests/join", "alice", "contestant", map[string]string{"room_code": strings.ToLower(contest.RoomCode)})
	if status != http.StatusOK {
		t.Fatalf("join status = %d (%s)", status, resp.Message)
	}
	s.clock.Set(testutil.T0.Add(10 * time.Minute))
	return contest.ID
}

func TestRoutesRequireIdentity(t *testing.T) {
	s := newServer(t)
	status, resp := s.do(t, http.MethodGet, "/api/v1/contests", "", "", nil)
	testutil.AssertEqual(t, status, http.StatusUnauthorized)
	testutil.AssertEqual(t, resp.Code, appErr.Unauthorized)

	status, resp = s.do(t, http.MethodPost, "/api/v1/contests", "alice", "contestant", map[string]string{"title": "x"})
	testutil.AssertEqual(t, status, http.StatusForbidden)
	testutil.AssertEqual(t, resp.Code, appErr.PermissionDenied)

	status, _ = s.do(t, http.MethodGet, "/api/v1/admin/contests", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusForbidden)
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	s := newServer(t)
	status, resp := s.do(t, http.MethodPost, "/api/v1/contests", "org", "organizer", map[string]string{"title": "no times"})
	testutil.AssertEqual(t, status, http.StatusBadRequest)
	testutil.AssertEqual(t, resp.Code, appErr.InvalidParams)
}

func TestListAndAdminList(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)

	status, resp := s.do(t, http.MethodGet, "/api/v1/contests", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var list service.ContestList
	testutil.MustUnmarshalJSON(t, resp.Data, &list)
	testutil.AssertEqual(t, len(list.Running), 1)
	testutil.AssertEqual(t, list.Running[0].ID, id)
	testutil.AssertEqual(t, list.Running[0].RoomCode, "")

	status, resp = s.do(t, http.MethodGet, "/api/v1/admin/contests", "org", "organizer", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var created struct {
		Contests []service.ContestSummary `json:"contests"`
	}
	testutil.MustUnmarshalJSON(t, resp.Data, &created)
	testutil.AssertEqual(t, len(created.Contests), 1)
	testutil.AssertTrue(t, created.Contests[0].RoomCode != "", "creator sees the room code")
}

func TestDetailRequiresRegistration(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)

	status, resp := s.do(t, http.MethodGet, "/api/v1/contests/"+id, "mallory", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusForbidden)
	testutil.AssertEqual(t, resp.Code, appErr.NotRegistered)

	status, resp = s.do(t, http.MethodGet, "/api/v1/contests/"+id, "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var detail service.ContestDetail
	testutil.MustUnmarshalJSON(t, resp.Data, &detail)
	testutil.AssertEqual(t, detail.Phase, model.PhaseRunning)
	testutil.AssertEqual(t, len(detail.Problems), 1)
}

func TestRunAndSubmitFlow(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)
	code := map[string]string{"problem_id": "p1", "code": "print(1)", "language": "python"}

	status, resp := s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/run", "alice", "contestant", code)
	testutil.AssertEqual(t, status, http.StatusOK)
	var run gate.RunOutcome
	testutil.MustUnmarshalJSON(t, resp.Data, &run)
	testutil.AssertTrue(t, run.Passed, "run passes")
	testutil.AssertEqual(t, len(run.Results), 1)

	status, resp = s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/submit", "alice", "contestant", code, "Idempotency-Key", "k1")
	testutil.AssertEqual(t, status, http.StatusOK)
	var submitted controller.SubmitResponse
	testutil.MustUnmarshalJSON(t, resp.Data, &submitted)
	testutil.AssertEqual(t, submitted.Verdict, model.VerdictPassed)
	testutil.AssertEqual(t, len(submitted.Results), 2)
	testutil.AssertTrue(t, !bytes.Contains(resp.Data, []byte("print(1)")), "source code is not echoed")

	// Same key replays the stored attempt.
	_, replay := s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/submit", "alice", "contestant", code, "Idempotency-Key", "k1")
	var replayed controller.SubmitResponse
	testutil.MustUnmarshalJSON(t, replay.Data, &replayed)
	testutil.AssertEqual(t, replayed.AttemptID, submitted.AttemptID)

	status, resp = s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/submit", "alice", "contestant", code)
	testutil.AssertEqual(t, status, http.StatusConflict)
	testutil.AssertEqual(t, resp.Code, appErr.AlreadyAccepted)

	status, resp = s.do(t, http.MethodGet, "/api/v1/contests/"+id+"/submissions", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var subs struct {
		Items []controller.SubmitResponse `json:"items"`
	}
	testutil.MustUnmarshalJSON(t, resp.Data, &subs)
	testutil.AssertEqual(t, len(subs.Items), 2)

	status, _ = s.do(t, http.MethodGet, "/api/v1/contests/"+id+"/submissions?user_id=alice", "bob", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusForbidden)
	status, _ = s.do(t, http.MethodGet, "/api/v1/contests/"+id+"/submissions?user_id=alice", "org", "organizer", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
}

func TestSubmitOutsideWindow(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)
	s.clock.Set(testutil.T0.Add(3 * time.Hour))

	status, resp := s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/submit", "alice", "contestant",
		map[string]string{"problem_id": "p1", "code": "x", "language": "python"})
	testutil.AssertEqual(t, status, http.StatusConflict)
	testutil.AssertEqual(t, resp.Code, appErr.ContestNotRunning)
}

func TestRankingsPendingWhileRunning(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)

	status, resp := s.do(t, http.MethodGet, "/api/v1/contests/"+id+"/rankings", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusAccepted)
	testutil.AssertEqual(t, resp.Code, appErr.RankingNotAvailable)
	testutil.AssertTrue(t, resp.Retryable, "pending rankings are retryable")
	var details map[string]interface{}
	testutil.MustUnmarshalJSON(t, resp.Data, &details)
	testutil.AssertEqual(t, details["phase"], interface{}(string(model.PhaseRunning)))

	s.do(t, http.MethodPost, "/api/v1/contests/"+id+"/submit", "alice", "contestant",
		map[string]string{"problem_id": "p1", "code": "x", "language": "python"})
	s.clock.Set(testutil.T0.Add(3 * time.Hour))

	status, resp = s.do(t, http.MethodGet, "/api/v1/contests/"+id+"/rankings", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusOK)
	var board model.Rankings
	testutil.MustUnmarshalJSON(t, resp.Data, &board)
	testutil.AssertEqual(t, len(board.Entries), 1)
	testutil.AssertEqual(t, board.Entries[0].ContestantID, "alice")
	testutil.AssertEqual(t, board.Entries[0].Rank, 1)
}

func TestRankingsUnknownContest(t *testing.T) {
	s := newServer(t)
	status, resp := s.do(t, http.MethodGet, "/api/v1/contests/nope/rankings", "alice", "contestant", nil)
	testutil.AssertEqual(t, status, http.StatusNotFound)
	testutil.AssertEqual(t, resp.Code, appErr.ContestNotFound)
}

func TestRankingsStream(t *testing.T) {
	s := newServer(t)
	id := s.setup(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	header := http.Header{}
	header.Set("X-User-Id", "alice")
	header.Set("X-User-Role", "contestant")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/contests/" + id + "/rankings/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	testutil.AssertNoError(t, err)
	defer conn.Close()
	testutil.AssertNoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame controller.StreamFrame
	testutil.AssertNoError(t, conn.ReadJSON(&frame))
	testutil.AssertTrue(t, !frame.Available, "board hidden while running")
	testutil.AssertEqual(t, appErr.ErrorCode(frame.Code), appErr.RankingNotAvailable)

	s.clock.Set(testutil.T0.Add(3 * time.Hour))
	s.board.Invalidate(id)

	testutil.AssertNoError(t, conn.ReadJSON(&frame))
	testutil.AssertTrue(t, frame.Available, "board published after the end")
}
