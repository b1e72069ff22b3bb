package model

import "time"

// Phase is the lifecycle stage of a contest at a given instant.
type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// Contest is a time-boxed competition over an ordered set of problems.
type Contest struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Slug         string    `json:"slug"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ProblemIDs   []string  `json:"problem_ids"`
	RoomCode     string    `json:"room_code"`
	Participants []string  `json:"participants"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasProblem reports whether problemID belongs to the contest.
func (c *Contest) HasProblem(problemID string) bool {
	for _, id := range c.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

// IsParticipant reports whether contestantID joined the contest.
func (c *Contest) IsParticipant(contestantID string) bool {
	for _, id := range c.Participants {
		if id == contestantID {
			return true
		}
	}
	return false
}

// TestCase is one input/expected-output pair of a problem.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Example  bool   `json:"example"`
}

// Problem is the catalog view of a problem. The engine never mutates it.
type Problem struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty string     `json:"difficulty"`
	TestCases  []TestCase `json:"test_cases"`
}

// ExampleCases returns the visible subset used by run mode.
func (p *Problem) ExampleCases() []TestCase {
	out := make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if tc.Example {
			out = append(out, tc)
		}
	}
	return out
}
