package scoring

import (
	"sort"

	"arena/internal/contest/model"
)

// Less orders standings: more solved first, then lower penalty, then the
// earlier last accept, then contestant id. A contestant without accepts ties
// with any other on the third key.
func Less(a, b *model.ContestantScore) bool {
	if a.ProblemsSolved != b.ProblemsSolved {
		return a.ProblemsSolved > b.ProblemsSolved
	}
	if a.Penalty != b.Penalty {
		return a.Penalty < b.Penalty
	}
	if c := compareLastAccepted(a, b); c != 0 {
		return c < 0
	}
	return a.ContestantID < b.ContestantID
}

func compareLastAccepted(a, b *model.ContestantScore) int {
	if a.LastAcceptedAt == nil || b.LastAcceptedAt == nil {
		return 0
	}
	switch {
	case a.LastAcceptedAt.Before(*b.LastAcceptedAt):
		return -1
	case a.LastAcceptedAt.After(*b.LastAcceptedAt):
		return 1
	}
	return 0
}

// Rank sorts scores in place and assigns dense 1-based ranks. Entries equal
// on everything but contestant id share a rank.
func Rank(scores []model.ContestantScore) []model.ContestantScore {
	sort.SliceStable(scores, func(i, j int) bool { return Less(&scores[i], &scores[j]) })
	rank := 0
	for i := range scores {
		if i == 0 || !tied(&scores[i-1], &scores[i]) {
			rank++
		}
		scores[i].Rank = rank
	}
	return scores
}

func tied(a, b *model.ContestantScore) bool {
	return a.ProblemsSolved == b.ProblemsSolved &&
		a.Penalty == b.Penalty &&
		compareLastAccepted(a, b) == 0
}
