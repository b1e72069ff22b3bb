package service

import (
	"context"
	"errors"
	"time"

	"arena/internal/common/mq"
	"arena/internal/contest/repository"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	defaultStaleAfter    = 10 * time.Minute
)

// Invalidator drops cached rankings of a contest.
type Invalidator interface {
	Invalidate(contestID string)
}

// AttemptEventConsumer keeps the leaderboard of this instance fresh when
// another instance writes to the shared ledger.
type AttemptEventConsumer struct {
	consumer mq.Consumer
	target   Invalidator
	origin   string
}

// NewAttemptEventConsumer creates a consumer. Events published by origin are ignored.
func NewAttemptEventConsumer(consumer mq.Consumer, target Invalidator, origin string) *AttemptEventConsumer {
	return &AttemptEventConsumer{consumer: consumer, target: target, origin: origin}
}

// Subscribe registers the handler and starts consuming. Every instance needs
// its own consumer group to see all events.
func (c *AttemptEventConsumer) Subscribe(ctx context.Context, topic, consumerGroup string, opts *mq.SubscribeOptions) error {
	if c == nil || c.consumer == nil {
		return errors.New("message queue is nil")
	}
	if topic == "" {
		return errors.New("attempt topic is required")
	}
	options := opts
	if options == nil {
		options = &mq.SubscribeOptions{}
	}
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = consumerGroup
	}
	if err := c.consumer.Subscribe(ctx, topic, c.HandleMessage, options); err != nil {
		return err
	}
	return c.consumer.Start()
}

// HandleMessage processes one attempt event. Malformed events are dropped.
func (c *AttemptEventConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	ev, origin, err := repository.DecodeAttemptEvent(message)
	if err != nil {
		logger.Warn(ctx, "parse attempt event failed", zap.Error(err))
		return nil
	}
	if origin != "" && origin == c.origin {
		return nil
	}
	if ev.Attempt.ContestID == "" {
		logger.Warn(ctx, "attempt event missing contest_id", zap.String("attempt_id", ev.Attempt.ID))
		return nil
	}
	c.target.Invalidate(ev.Attempt.ContestID)
	return nil
}

// StaleExpirer resolves pending attempts abandoned by a crashed judge call.
type StaleExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically fails pending attempts older than staleAfter so a
// contest does not keep its final rankings unavailable forever.
type Sweeper struct {
	ledger     StaleExpirer
	interval   time.Duration
	staleAfter time.Duration
}

func NewSweeper(l StaleExpirer, interval, staleAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Sweeper{ledger: l, interval: interval, staleAfter: staleAfter}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns the number of attempts expired.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.ledger.ExpireStale(ctx, s.staleAfter)
	if err != nil {
		logger.Error(ctx, "expire stale attempts failed", zap.Error(err))
		return n
	}
	if n > 0 {
		logger.Warn(ctx, "expired stale pending attempts", zap.Int("count", n), zap.Duration("older_than", s.staleAfter))
	}
	return n
}
