package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Message headers carrying per-submission scheduling hints. Both are
// RFC 3339 instants, evaluated by the worker at dequeue time.
const (
	headerExpiresAt = "Task-Expires-At"
	headerNotBefore = "Task-Not-Before"
)

// Scheduler enqueues named tasks. Delivery is FIFO within a task name;
// no ordering holds across names.
type Scheduler struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{js: client.JS, log: client.Log, now: time.Now}
}

// EnqueueOption customises a single submission.
type EnqueueOption func(*nats.Msg, time.Time)

// WithExpiresIn drops the task if no worker picks it up within d.
func WithExpiresIn(d time.Duration) EnqueueOption {
	return func(msg *nats.Msg, now time.Time) {
		msg.Header.Set(headerExpiresAt, now.Add(d).Format(time.RFC3339Nano))
	}
}

// WithDelay holds the task back for d before it becomes runnable.
func WithDelay(d time.Duration) EnqueueOption {
	return func(msg *nats.Msg, now time.Time) {
		msg.Header.Set(headerNotBefore, now.Add(d).Format(time.RFC3339Nano))
	}
}

// WithDedupeID makes repeat submissions with the same id collapse into
// one within the JetStream dedupe window.
func WithDedupeID(id string) EnqueueOption {
	return func(msg *nats.Msg, _ time.Time) {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
}

// Enqueue submits one task. The payload must be JSON-serializable.
func (s *Scheduler) Enqueue(ctx context.Context, task string, payload any, opts ...EnqueueOption) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", task, err)
	}
	msg := nats.NewMsg(taskSubjectPrefix + task)
	msg.Data = data
	now := s.now()
	for _, opt := range opts {
		opt(msg, now)
	}
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("enqueue %s: %w", task, err)
	}
	s.log.Debug("task enqueued", zap.String("task", task))
	return nil
}

// expiresBefore reports whether the message's expiry header has passed.
func expiresBefore(header nats.Header, now time.Time) bool {
	raw := header.Get(headerExpiresAt)
	if raw == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return expiresAt.Before(now)
}

// holdFor returns how long the message must still wait before running.
func holdFor(header nats.Header, now time.Time) time.Duration {
	raw := header.Get(headerNotBefore)
	if raw == "" {
		return 0
	}
	notBefore, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0
	}
	if remaining := notBefore.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
