package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaMessageRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "evt-1",
		Key:        "c1",
		Body:       []byte(`{"kind":"resolved"}`),
		Headers:    map[string]string{"event": "attempt"},
		Timestamp:  ts,
		MaxRetries: 5,
		Expiration: time.Minute,
	}
	km := toKafkaMessage("contest.attempts", in)
	if string(km.Key) != "c1" || km.Topic != "contest.attempts" {
		t.Fatalf("unexpected kafka message: key=%s topic=%s", km.Key, km.Topic)
	}

	out := fromKafkaMessage(kafka.Message{Key: km.Key, Value: km.Value, Headers: km.Headers, Time: km.Time})
	if out.ID != "evt-1" || out.Key != "c1" || out.MaxRetries != 5 || out.Expiration != time.Minute {
		t.Fatalf("decoded = %+v", out)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", out.Timestamp)
	}
	if v, _ := out.GetHeader("event"); v != "attempt" {
		t.Fatalf("header = %q", v)
	}
	if !out.Expired(ts.Add(2*time.Minute)) || out.Expired(ts.Add(time.Second)) {
		t.Fatal("expiry check mismatch")
	}
}

func TestTokenLimiter(t *testing.T) {
	l := NewTokenLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	l.Release()
	l.Release()
	if l.Available() != 1 {
		t.Fatalf("available = %d", l.Available())
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}
