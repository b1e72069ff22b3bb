// Package clock derives a contest's phase from its time bounds.
package clock

import (
	"sync"
	"time"

	"arena/internal/contest/model"
)

// Phase maps the contest window and now to a phase. The start instant is
// already running; the end instant is still running and anything after it is finished.
func Phase(c model.Contest, now time.Time) model.Phase {
	switch {
	case now.Before(c.StartTime):
		return model.PhaseUpcoming
	case now.After(c.EndTime):
		return model.PhaseFinished
	default:
		return model.PhaseRunning
	}
}

// UntilStart is the time left before the contest opens, zero once it has.
func UntilStart(c model.Contest, now time.Time) time.Duration {
	if d := c.StartTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Remaining is the time left while running, zero otherwise.
func Remaining(c model.Contest, now time.Time) time.Duration {
	if Phase(c, now) != model.PhaseRunning {
		return 0
	}
	return c.EndTime.Sub(now)
}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
