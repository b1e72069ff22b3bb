package model

import "time"

// ProblemScore is one contestant's standing on one problem.
type ProblemScore struct {
	ProblemID        string     `json:"problem_id"`
	Solved           bool       `json:"solved"`
	SolveTimeMinutes int64      `json:"solve_time"`
	Attempts         int        `json:"attempts"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
}

// ContestantScore is derived from the ledger and never stored as source of truth.
type ContestantScore struct {
	Rank              int            `json:"rank"`
	ContestantID      string         `json:"contestant_id"`
	ProblemsSolved    int            `json:"problems_solved"`
	Penalty           int64          `json:"penalty"`
	TotalSolveMinutes int64          `json:"total_time"`
	LastAcceptedAt    *time.Time     `json:"last_accepted_at,omitempty"`
	Problems          []ProblemScore `json:"problem_stats"`
}

// Rankings is a leaderboard snapshot of one contest.
type Rankings struct {
	ContestID   string            `json:"contest_id"`
	Phase       Phase             `json:"phase"`
	Final       bool              `json:"final"`
	ProblemIDs  []string          `json:"problems"`
	Entries     []ContestantScore `json:"rankings"`
	GeneratedAt time.Time         `json:"generated_at"`
	Revision    uint64            `json:"revision"`
}
