package testutil

import (
	"context"
	"sync"
	"time"

	"arena/internal/contest/model"
	appErr "arena/pkg/errors"
)

// T0 is the start instant used by contest fixtures.
var T0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// NewContest builds a two-hour contest starting at T0.
func NewContest(id string, problems []string, participants ...string) *model.Contest {
	return &model.Contest{
		ID:           id,
		Title:        "Contest " + id,
		StartTime:    T0,
		EndTime:      T0.Add(2 * time.Hour),
		ProblemIDs:   append([]string(nil), problems...),
		Participants: append([]string(nil), participants...),
		RoomCode:     "ROOM" + id,
	}
}

// Contests is an in-memory contest lookup.
type Contests struct {
	mu    sync.Mutex
	items map[string]*model.Contest
	Err   error
}

func NewContests(items ...*model.Contest) *Contests {
	c := &Contests{items: make(map[string]*model.Contest)}
	for _, item := range items {
		c.Put(item)
	}
	return c
}

func (c *Contests) Put(contest *model.Contest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *contest
	c.items[contest.ID] = &cp
}

func (c *Contests) Get(_ context.Context, id string) (*model.Contest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	item, ok := c.items[id]
	if !ok {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	cp := *item
	return &cp, nil
}
