package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arena/internal/cli/command"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func build(t *testing.T, key string, params command.Params) command.RequestSpec {
	t.Helper()
	cmd, ok := command.Registry()[key]
	if !ok {
		t.Fatalf("command %q not registered", key)
	}
	command.ApplyFileShortcuts(cmd, params)
	req, err := command.BuildRequest(cmd, params, now)
	if err != nil {
		t.Fatalf("build %s: %v", key, err)
	}
	return req
}

func TestBuildSubmitRequest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.py")
	if err := os.WriteFile(src, []byte("print(1)\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	req := build(t, "contest submit", command.Params{
		"contest": "c-1",
		"problem": "two-sum",
		"lang":    "python",
		"file":    src,
		"key":     "retry-1",
	})
	if req.Method != "POST" || req.Path != "/api/v1/contests/c-1/submit" {
		t.Fatalf("request = %s %s", req.Method, req.Path)
	}
	if req.Headers["Idempotency-Key"] != "retry-1" {
		t.Fatalf("headers = %v", req.Headers)
	}
	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != "print(1)\n" || body["problem_id"] != "two-sum" || body["language"] != "python" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["id"]; ok {
		t.Fatalf("path field leaked into body: %v", body)
	}
}

func TestBuildCreateRequest(t *testing.T) {
	req := build(t, "contest create", command.Params{
		"title":    "Weekly",
		"start":    "+30m",
		"end":      "2026-03-01T12:00:00Z",
		"problems": "a, b,,c",
	})
	var body struct {
		Title      string    `json:"title"`
		StartTime  time.Time `json:"start_time"`
		EndTime    time.Time `json:"end_time"`
		ProblemIDs []string  `json:"problem_ids"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if !body.StartTime.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("start = %v", body.StartTime)
	}
	if !body.EndTime.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", body.EndTime)
	}
	if strings.Join(body.ProblemIDs, "|") != "a|b|c" {
		t.Fatalf("problems = %v", body.ProblemIDs)
	}
}

func TestBuildQueryAndGet(t *testing.T) {
	req := build(t, "contest submissions", command.Params{"id": "c 1", "user_id": "bob"})
	if req.Path != "/api/v1/contests/c%201/submissions?user_id=bob" {
		t.Fatalf("path = %s", req.Path)
	}
	if req.Body != nil {
		t.Fatalf("GET carries a body: %s", req.Body)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		params command.Params
		want   string
	}{
		{name: "missing path", key: "contest rankings", params: command.Params{}, want: "id is required"},
		{name: "bad time", key: "contest create", params: command.Params{"title": "x", "start": "tomorrow", "end": "+1h", "problems": "a"}, want: "start_time"},
		{name: "missing file", key: "contest run", params: command.Params{"id": "c", "problem_id": "p", "language": "go", "code_file": "/nonexistent/x.go"}, want: "read file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := command.Registry()[tc.key]
			command.ApplyFileShortcuts(cmd, tc.params)
			_, err := command.BuildRequest(cmd, tc.params, now)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestNeedsPrompt(t *testing.T) {
	cmd := command.Registry()["contest run"]
	params := command.Params{"code_file": "main.go"}
	command.ApplyFileShortcuts(cmd, params)
	for _, field := range cmd.Fields {
		if field.Name == "code" && command.NeedsPrompt(field, params) {
			t.Fatalf("code read from file should not be prompted for")
		}
		if field.Name == "problem_id" && !command.NeedsPrompt(field, params) {
			t.Fatalf("problem_id should be prompted for")
		}
	}
}
