package repl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"arena/internal/cli/command"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/repl"
	"arena/internal/cli/state"
)

type recorded struct {
	method, path, user, role, auth, idem string
	body                                 map[string]interface{}
}

type recorder struct {
	mu   sync.Mutex
	reqs []recorded
}

func (r *recorder) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rec := recorded{
			method: req.Method,
			path:   req.URL.RequestURI(),
			user:   req.Header.Get("X-User-Id"),
			role:   req.Header.Get("X-User-Role"),
			auth:   req.Header.Get("Authorization"),
			idem:   req.Header.Get("Idempotency-Key"),
		}
		data, _ := io.ReadAll(req.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		r.mu.Lock()
		r.reqs = append(r.reqs, rec)
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newSession(t *testing.T, srv *httptest.Server, input string) (*repl.Session, *bytes.Buffer, *state.Identity, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	identity := &state.Identity{}
	client := httpclient.New(srv.URL, 5*time.Second, func() state.Identity { return *identity })
	out := &bytes.Buffer{}
	s := repl.New(client, command.Registry(), identity, statePath, false, strings.NewReader(input), out)
	return s, out, identity, statePath
}

func TestSessionRunsContestCommands(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"code":0,"message":"Success"}`))
	defer srv.Close()

	input := strings.Join([]string{
		"set user org organizer",
		`contest create title="Weekly 12" start=+10m end=+2h problems=p1,p2`,
		"set user alice",
		"contest join code=abcd2345",
		"contest submit id=c1 problem=p1 lang=go code='package main' key=k-1",
		"exit",
	}, "\n") + "\n"
	s, out, identity, statePath := newSession(t, srv, input)
	s.Run(context.Background())

	if len(rec.reqs) != 3 {
		t.Fatalf("requests = %d, output:\n%s", len(rec.reqs), out.String())
	}
	create := rec.reqs[0]
	if create.method != http.MethodPost || create.path != "/api/v1/contests" || create.user != "org" || create.role != "organizer" {
		t.Fatalf("create = %+v", create)
	}
	if create.body["title"] != "Weekly 12" {
		t.Fatalf("create body = %v", create.body)
	}
	join := rec.reqs[1]
	if join.user != "alice" || join.role != "" || join.body["room_code"] != "abcd2345" {
		t.Fatalf("join = %+v", join)
	}
	submit := rec.reqs[2]
	if submit.path != "/api/v1/contests/c1/submit" || submit.idem != "k-1" || submit.body["code"] != "package main" {
		t.Fatalf("submit = %+v", submit)
	}

	saved, err := state.Load(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if saved.UserID != "alice" || identity.UserID != "alice" {
		t.Fatalf("identity not persisted: %+v", saved)
	}
	if !strings.Contains(out.String(), "bye") {
		t.Fatalf("missing exit output:\n%s", out.String())
	}
}

func TestSessionPromptsForMissingFields(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"code":0}`))
	defer srv.Close()

	s, out, identity, _ := newSession(t, srv, "c9\n")
	identity.AccessToken = "jwt-token"
	if err := s.Exec(context.Background(), "contest rankings"); err != nil {
		t.Fatalf("exec: %v\n%s", err, out.String())
	}
	if len(rec.reqs) != 1 || rec.reqs[0].path != "/api/v1/contests/c9/rankings" {
		t.Fatalf("requests = %+v", rec.reqs)
	}
	if rec.reqs[0].auth != "Bearer jwt-token" || rec.reqs[0].user != "" {
		t.Fatalf("bearer token should replace gateway headers: %+v", rec.reqs[0])
	}
	if !strings.Contains(out.String(), "contest_id:") {
		t.Fatalf("prompt missing:\n%s", out.String())
	}
}

func TestSessionRendersPendingRankings(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusAccepted,
		`{"code":14200,"message":"Contest rankings will be available once the contest has ended","retryable":true}`))
	defer srv.Close()

	s, out, identity, _ := newSession(t, srv, "")
	identity.UserID = "alice"
	if err := s.Exec(context.Background(), "contest rankings id=c1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "HTTP 202") || !strings.Contains(out.String(), "available once the contest has ended") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestSessionRejectsBadInput(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	s, _, identity, _ := newSession(t, srv, "")

	if err := s.Exec(context.Background(), "contest list"); err == nil || !strings.Contains(err.Error(), "no identity") {
		t.Fatalf("err = %v", err)
	}
	identity.UserID = "alice"
	cases := map[string]string{
		"contest":             "invalid command",
		"contest explode":     "unknown command",
		"contest show id":     "invalid param",
		`contest show id="c1`: "parse command",
	}
	for line, want := range cases {
		if err := s.Exec(context.Background(), line); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%q: err = %v, want %q", line, err, want)
		}
	}
}
