package clock_test

import (
	"testing"
	"time"

	"arena/internal/contest/clock"
	"arena/internal/contest/model"
)

func TestPhaseBoundaries(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	c := model.Contest{StartTime: start, EndTime: end}

	cases := []struct {
		name string
		now  time.Time
		want model.Phase
	}{
		{"far past", time.Unix(0, 0), model.PhaseUpcoming},
		{"just before start", start.Add(-time.Nanosecond), model.PhaseUpcoming},
		{"start instant", start, model.PhaseRunning},
		{"middle", start.Add(time.Hour), model.PhaseRunning},
		{"end instant", end, model.PhaseRunning},
		{"just after end", end.Add(time.Nanosecond), model.PhaseFinished},
		{"far future", end.AddDate(100, 0, 0), model.PhaseFinished},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clock.Phase(c, tc.now); got != tc.want {
				t.Fatalf("Phase() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPhaseIsTotalAndOrdered(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := model.Contest{StartTime: start, EndTime: start.Add(time.Minute)}
	order := map[model.Phase]int{model.PhaseUpcoming: 0, model.PhaseRunning: 1, model.PhaseFinished: 2}

	prev := -1
	for offset := -90 * time.Second; offset <= 150*time.Second; offset += 500 * time.Millisecond {
		p := clock.Phase(c, start.Add(offset))
		rank, ok := order[p]
		if !ok {
			t.Fatalf("unknown phase %q at offset %v", p, offset)
		}
		if rank < prev {
			t.Fatalf("phase went backwards at offset %v", offset)
		}
		prev = rank
	}
}

func TestCountdowns(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := model.Contest{StartTime: start, EndTime: start.Add(time.Hour)}

	if got := clock.UntilStart(c, start.Add(-5*time.Minute)); got != 5*time.Minute {
		t.Fatalf("UntilStart = %v", got)
	}
	if got := clock.UntilStart(c, start.Add(time.Minute)); got != 0 {
		t.Fatalf("UntilStart after start = %v", got)
	}
	if got := clock.Remaining(c, start.Add(45*time.Minute)); got != 15*time.Minute {
		t.Fatalf("Remaining = %v", got)
	}
	if got := clock.Remaining(c, start.Add(-time.Minute)); got != 0 {
		t.Fatalf("Remaining before start = %v", got)
	}
}

func TestManualClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(base)
	m.Advance(90 * time.Second)
	if !m.Now().Equal(base.Add(90 * time.Second)) {
		t.Fatalf("Now() = %v", m.Now())
	}
	m.Set(base)
	if !m.Now().Equal(base) {
		t.Fatalf("Now() after Set = %v", m.Now())
	}
}
