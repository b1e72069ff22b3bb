// Package scoring derives ICPC-style standings from ledger attempts.
package scoring

import (
	"sort"
	"time"

	"arena/internal/contest/model"
)

// DefaultPenalty is charged per rejected submission before the accept.
const DefaultPenalty = 20 * time.Minute

// Engine is a pure function of the contest and its attempts.
type Engine struct {
	PenaltyPerWrongAttempt       time.Duration `yaml:"penaltyPerWrongAttempt"`
	ChargeInfrastructureFailures bool          `yaml:"chargeInfrastructureFailures"`
}

func (e Engine) penalty() time.Duration {
	if e.PenaltyPerWrongAttempt <= 0 {
		return DefaultPenalty
	}
	return e.PenaltyPerWrongAttempt
}

// counts reports whether a submit attempt is charged.
func (e Engine) counts(a *model.Attempt) bool {
	if a.Mode != model.ModeSubmit || a.Verdict == model.VerdictPending {
		return false
	}
	if a.ErrorKind == model.ErrorDuplicateAccept {
		return false
	}
	if a.ErrorKind.Infrastructure() && !e.ChargeInfrastructureFailures {
		return false
	}
	return true
}

// ScoreProblem scores one contestant's attempts on one problem. attempts may
// be in any order and may contain other problems' attempts; only problemID is read.
func (e Engine) ScoreProblem(start time.Time, problemID string, attempts []model.Attempt) model.ProblemScore {
	list := make([]*model.Attempt, 0, len(attempts))
	for i := range attempts {
		if attempts[i].ProblemID == problemID && e.counts(&attempts[i]) {
			list = append(list, &attempts[i])
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].SubmittedAt.Before(list[j].SubmittedAt)
		}
		return list[i].Seq < list[j].Seq
	})

	score := model.ProblemScore{ProblemID: problemID}
	for _, a := range list {
		score.Attempts++
		if a.Accepted() {
			at := a.SubmittedAt
			score.Solved = true
			score.AcceptedAt = &at
			score.SolveTimeMinutes = minutesSince(start, at)
			return score
		}
	}
	return score
}

func minutesSince(start, at time.Time) int64 {
	d := at.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// ScoreContestant totals a contestant across the contest's problems.
// Unsolved problems contribute nothing regardless of attempts.
func (e Engine) ScoreContestant(contest *model.Contest, contestantID string, attempts []model.Attempt) model.ContestantScore {
	mine := attempts[:0:0]
	for i := range attempts {
		if attempts[i].ContestantID == contestantID {
			mine = append(mine, attempts[i])
		}
	}

	score := model.ContestantScore{
		ContestantID: contestantID,
		Problems:     make([]model.ProblemScore, 0, len(contest.ProblemIDs)),
	}
	step := int64(e.penalty() / time.Minute)
	for _, pid := range contest.ProblemIDs {
		ps := e.ScoreProblem(contest.StartTime, pid, mine)
		score.Problems = append(score.Problems, ps)
		if !ps.Solved {
			continue
		}
		score.ProblemsSolved++
		score.TotalSolveMinutes += ps.SolveTimeMinutes
		score.Penalty += ps.SolveTimeMinutes + step*int64(ps.Attempts-1)
		if score.LastAcceptedAt == nil || ps.AcceptedAt.After(*score.LastAcceptedAt) {
			at := *ps.AcceptedAt
			score.LastAcceptedAt = &at
		}
	}
	return score
}

// ScoreContest scores every registered participant plus anyone who has
// attempts in the contest. The result is unsorted.
func (e Engine) ScoreContest(contest *model.Contest, attempts []model.Attempt) []model.ContestantScore {
	seen := make(map[string]struct{}, len(contest.Participants))
	ids := make([]string, 0, len(contest.Participants))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range contest.Participants {
		add(id)
	}
	byContestant := make(map[string][]model.Attempt)
	for i := range attempts {
		a := attempts[i]
		if a.ContestID != contest.ID {
			continue
		}
		add(a.ContestantID)
		byContestant[a.ContestantID] = append(byContestant[a.ContestantID], a)
	}

	out := make([]model.ContestantScore, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.ScoreContestant(contest, id, byContestant[id]))
	}
	return out
}
