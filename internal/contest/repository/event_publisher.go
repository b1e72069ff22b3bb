package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arena/internal/common/mq"
	"arena/internal/contest/ledger"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/logger"

	"go.uber.org/zap"
)

// OriginHeader carries the id of the instance that published an event, so a
// consumer can skip its own writes.
const OriginHeader = "origin"

// AttemptEvent is the wire form of a ledger write. Source code is never sent.
type AttemptEvent struct {
	ledger.Event
	PublishedAt int64 `json:"published_at"`
}

// MQAttemptEventPublisher forwards ledger events to a message queue topic
// keyed by contest id, so events of one contest stay ordered.
type MQAttemptEventPublisher struct {
	producer mq.Producer
	topic    string
	origin   string
	timeout  time.Duration
}

// NewMQAttemptEventPublisher creates a publisher. origin identifies this instance.
func NewMQAttemptEventPublisher(producer mq.Producer, topic, origin string, timeout time.Duration) *MQAttemptEventPublisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MQAttemptEventPublisher{producer: producer, topic: topic, origin: origin, timeout: timeout}
}

// Publish sends one event.
func (p *MQAttemptEventPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("attempt publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("attempt topic is required")
	}
	ev.Attempt.Code = ""
	payload, err := json.Marshal(AttemptEvent{Event: ev, PublishedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal attempt event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = ev.Attempt.ID + ":" + string(ev.Kind)
	message.Key = ev.Attempt.ContestID
	message.SetHeader(OriginHeader, p.origin)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.MQError, "publish attempt event failed")
	}
	return nil
}

// AttemptChanged implements ledger.Listener. Failures are logged; the ledger
// write has already committed.
func (p *MQAttemptEventPublisher) AttemptChanged(ctx context.Context, ev ledger.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.Publish(pubCtx, ev); err != nil {
		logger.Warn(ctx, "publish attempt event failed",
			zap.String("attempt_id", ev.Attempt.ID),
			zap.String("contest_id", ev.Attempt.ContestID),
			zap.Error(err),
		)
	}
}

// DecodeAttemptEvent parses a message produced by MQAttemptEventPublisher.
func DecodeAttemptEvent(message *mq.Message) (AttemptEvent, string, error) {
	var ev AttemptEvent
	if message == nil {
		return ev, "", fmt.Errorf("nil message")
	}
	if err := json.Unmarshal(message.Body, &ev); err != nil {
		return ev, "", fmt.Errorf("decode attempt event failed: %w", err)
	}
	origin, _ := message.GetHeader(OriginHeader)
	return ev, origin, nil
}

var _ ledger.Listener = (*MQAttemptEventPublisher)(nil)
