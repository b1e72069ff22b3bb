// Package judge is the client side of the external code-execution service.
package judge

import (
	"context"
	"errors"
	"time"

	"arena/internal/common/mq"
	"arena/internal/contest/model"
)

var (
	// ErrUnavailable reports an infrastructure failure of the judge.
	ErrUnavailable = errors.New("judge unavailable")
	// ErrQueueFull means no judge slot freed up within the queue wait.
	ErrQueueFull = errors.New("judge queue full")
)

// Request asks the judge to evaluate code against test cases. AttemptID makes
// retries idempotent on the judge side.
type Request struct {
	AttemptID string
	Code      string
	Language  string
	TestCases []model.TestCase
}

// Result is the judge's verdict. InfraError is set when evaluation could not
// complete for reasons outside the submitted code.
type Result struct {
	Passed     bool
	Cases      []model.CaseResult
	InfraError string
}

type Judge interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// Limited bounds concurrent evaluations. Callers waiting longer than
// queueWait for a slot get ErrQueueFull.
type Limited struct {
	next      Judge
	tokens    *mq.TokenLimiter
	queueWait time.Duration
}

func NewLimited(next Judge, concurrency int, queueWait time.Duration) *Limited {
	if queueWait <= 0 {
		queueWait = 2 * time.Second
	}
	return &Limited{next: next, tokens: mq.NewTokenLimiter(concurrency), queueWait: queueWait}
}

func (l *Limited) Evaluate(ctx context.Context, req Request) (*Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.queueWait)
	err := l.tokens.Acquire(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrQueueFull
	}
	defer l.tokens.Release()
	return l.next.Evaluate(ctx, req)
}
