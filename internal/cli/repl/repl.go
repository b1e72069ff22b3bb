package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arena/internal/cli/command"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/state"
	pkgerrors "arena/pkg/errors"

	"github.com/google/shlex"
)

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	identity     *state.Identity
	statePath    string
	prettyJSON   bool
	input        *bufio.Reader
	outputWriter *bufio.Writer
	now          func() time.Time
}

func New(client *httpclient.Client, commands map[string]command.Command, identity *state.Identity, statePath string, prettyJSON bool, in io.Reader, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		identity:     identity,
		statePath:    statePath,
		prettyJSON:   prettyJSON,
		input:        bufio.NewReader(in),
		outputWriter: bufio.NewWriter(out),
		now:          time.Now,
	}
}

// Run reads commands until EOF or exit.
func (s *Session) Run(ctx context.Context) {
	for {
		_, _ = s.outputWriter.WriteString("arena> ")
		_ = s.outputWriter.Flush()
		line, err := s.input.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.Exec(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	if line == "logout" {
		*s.identity = state.Identity{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear identity failed: %v", err)
			return true
		}
		s.printLine("identity cleared")
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|token|user")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.identity.AccessToken = parts[1]
		s.saveIdentity("token updated")
	case "user":
		if len(parts) < 2 {
			s.printLine("usage: set user <user_id> [contestant|organizer|admin]")
			return
		}
		s.identity.UserID = parts[1]
		s.identity.Role = ""
		if len(parts) > 2 {
			s.identity.Role = parts[2]
		}
		s.saveIdentity("user set to " + parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) saveIdentity(done string) {
	if err := state.Save(s.statePath, *s.identity); err != nil {
		s.printLine("save identity failed: %v", err)
		return
	}
	s.printLine("%s", done)
}

func (s *Session) handleShow(args string) {
	switch args {
	case "identity", "token":
		if s.identity.AccessToken != "" {
			token := s.identity.AccessToken
			if len(token) > 12 {
				token = token[:6] + "..." + token[len(token)-4:]
			}
			s.printLine("token: %s", token)
		}
		if s.identity.UserID != "" {
			s.printLine("user: %s (%s)", s.identity.UserID, orDefault(s.identity.Role, "contestant"))
		}
		if s.identity.AccessToken == "" && s.identity.UserID == "" {
			s.printLine("identity: <empty>")
		}
	case "config":
		s.printLine("statePath: %s", s.statePath)
	case "commands":
		for _, key := range command.Keys(s.commands) {
			s.printLine("  %s", key)
		}
	default:
		s.printLine("usage: show identity|config|commands")
	}
}

// Exec runs one "<service> <action> key=value ..." line.
func (s *Session) Exec(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	return s.ExecTokens(ctx, tokens)
}

// ExecTokens runs an already tokenised command.
func (s *Session) ExecTokens(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := tokens[0] + " " + tokens[1]
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	if cmd.RequiresAuth && s.identity.AccessToken == "" && s.identity.UserID == "" {
		return fmt.Errorf("no identity, use: set token <jwt> or set user <id> [role]")
	}
	command.ApplyFileShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params, s.now())
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !command.NeedsPrompt(field, params) {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := s.input.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if resp.StatusCode == http.StatusAccepted {
		var envelope struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.Code == int(pkgerrors.RankingNotAvailable) {
			s.printLine("%s", envelope.Message)
		}
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | logout | set base|timeout|token|user | show identity|config|commands")
	s.printLine("examples:")
	s.printLine("  set user alice")
	s.printLine("  contest join room_code=K7QX2M9P")
	s.printLine("  contest submit id=<contest_id> problem_id=two-sum language=python file=./main.py")
	s.printLine("  contest create title=\"Weekly 12\" start=+10m end=+2h10m problems=two-sum,valid-parentheses")
	s.printLine("  contest rankings id=<contest_id>")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
