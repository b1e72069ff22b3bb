package scoring_test

import (
	"testing"
	"time"

	"arena/internal/contest/model"
	"arena/internal/contest/scoring"
	"arena/internal/testutil"
)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func TestRankTieBreakOnLastAccept(t *testing.T) {
	scores := []model.ContestantScore{
		{ContestantID: "A", ProblemsSolved: 2, Penalty: 70, LastAcceptedAt: at(50 * time.Minute)},
		{ContestantID: "B", ProblemsSolved: 2, Penalty: 70, LastAcceptedAt: at(47 * time.Minute)},
	}
	ranked := scoring.Rank(scores)
	testutil.AssertEqual(t, ranked[0].ContestantID, "B")
	testutil.AssertEqual(t, ranked[0].Rank, 1)
	testutil.AssertEqual(t, ranked[1].Rank, 2)
}

func TestRankOrdering(t *testing.T) {
	scores := []model.ContestantScore{
		{ContestantID: "zed"},
		{ContestantID: "amy"},
		{ContestantID: "slow", ProblemsSolved: 1, Penalty: 90, LastAcceptedAt: at(90 * time.Minute)},
		{ContestantID: "fast", ProblemsSolved: 1, Penalty: 10, LastAcceptedAt: at(10 * time.Minute)},
		{ContestantID: "top", ProblemsSolved: 3, Penalty: 300, LastAcceptedAt: at(100 * time.Minute)},
		{ContestantID: "twin-b", ProblemsSolved: 1, Penalty: 10, LastAcceptedAt: at(10 * time.Minute)},
	}
	ranked := scoring.Rank(scores)

	wantOrder := []string{"top", "fast", "twin-b", "slow", "amy", "zed"}
	wantRank := []int{1, 2, 2, 3, 4, 4}
	for i := range wantOrder {
		testutil.AssertEqual(t, ranked[i].ContestantID, wantOrder[i])
		testutil.AssertEqual(t, ranked[i].Rank, wantRank[i])
	}
}

func TestRankDeterministic(t *testing.T) {
	build := func() []model.ContestantScore {
		return []model.ContestantScore{
			{ContestantID: "c"}, {ContestantID: "a"}, {ContestantID: "b"},
		}
	}
	first := scoring.Rank(build())
	reversed := build()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	second := scoring.Rank(reversed)
	for i := range first {
		testutil.AssertEqual(t, first[i].ContestantID, second[i].ContestantID)
	}
	testutil.AssertEqual(t, first[0].ContestantID, "a")
}
