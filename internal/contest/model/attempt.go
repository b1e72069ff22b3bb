package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionMode distinguishes scoring submissions from example runs.
type ExecutionMode uint8

const (
	ModeRun ExecutionMode = iota + 1
	ModeSubmit
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModeSubmit:
		return "submit"
	}
	return "unknown"
}

// ParseExecutionMode is the inverse of String.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch s {
	case "run":
		return ModeRun, nil
	case "submit":
		return ModeSubmit, nil
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}

func (m ExecutionMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ExecutionMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseExecutionMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Verdict is the judging outcome of an attempt.
type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictPassed  Verdict = "passed"
	VerdictFailed  Verdict = "failed"
)

// Final reports whether the verdict can no longer change.
func (v Verdict) Final() bool {
	return v == VerdictPassed || v == VerdictFailed
}

// ErrorKind tags failed attempts whose failure was not the contestant's code.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorJudgeUnavailable ErrorKind = "judge_unavailable"
	ErrorJudgeTimeout     ErrorKind = "judge_timeout"
	ErrorJudgeInterrupted ErrorKind = "judge_interrupted"
	ErrorDuplicateAccept  ErrorKind = "duplicate_accept"
)

// Infrastructure reports whether the failure originated outside the contestant's code.
func (k ErrorKind) Infrastructure() bool {
	switch k {
	case ErrorJudgeUnavailable, ErrorJudgeTimeout, ErrorJudgeInterrupted:
		return true
	}
	return false
}

// CaseResult is the judge's outcome for one test case.
type CaseResult struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Output   string `json:"output"`
	Pass     bool   `json:"pass"`
}

// Attempt is one recorded run or submission. Only the ledger writes attempts,
// and only the pending verdict is ever replaced.
type Attempt struct {
	ID           string        `json:"id"`
	Seq          int64         `json:"seq"`
	ContestID    string        `json:"contest_id"`
	ContestantID string        `json:"contestant_id"`
	ProblemID    string        `json:"problem_id"`
	Code         string        `json:"code,omitempty"`
	Language     string        `json:"language"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	Mode         ExecutionMode `json:"mode"`
	Verdict      Verdict       `json:"verdict"`
	Results      []CaseResult  `json:"results,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	JudgedAt     *time.Time    `json:"judged_at,omitempty"`
	SourceKey    string        `json:"source_key,omitempty"`
}

// Accepted reports whether the attempt is a passed submission.
func (a *Attempt) Accepted() bool {
	return a.Mode == ModeSubmit && a.Verdict == VerdictPassed
}

// Key returns the attempt's (contest, contestant, problem) triple.
func (a *Attempt) Key() TripleKey {
	return TripleKey{ContestID: a.ContestID, ContestantID: a.ContestantID, ProblemID: a.ProblemID}
}

// Clone returns a deep copy safe to hand to callers.
func (a *Attempt) Clone() Attempt {
	out := *a
	if a.Results != nil {
		out.Results = append([]CaseResult(nil), a.Results...)
	}
	if a.JudgedAt != nil {
		t := *a.JudgedAt
		out.JudgedAt = &t
	}
	return out
}

// TripleKey identifies one contestant's history on one contest problem.
type TripleKey struct {
	ContestID    string
	ContestantID string
	ProblemID    string
}

func (k TripleKey) String() string {
	return k.ContestID + "/" + k.ContestantID + "/" + k.ProblemID
}

// Outcome is the final judging result applied to a pending attempt.
type Outcome struct {
	Verdict      Verdict
	Results      []CaseResult
	ErrorKind    ErrorKind
	ErrorMessage string
}
