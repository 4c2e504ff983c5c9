package sched

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Handler runs one dequeued task. A returned error counts as a task
// failure; retries within the handler are the handler's business (most
// wrap their transport calls in Retry already), so failed tasks are
// logged and acknowledged rather than redelivered forever.
type Handler func(ctx context.Context, payload []byte) error

// Worker owns one durable pull consumer per registered task name, which
// is what gives each task name its own FIFO lane.
type Worker struct {
	client   *Client
	handlers map[string]Handler
	log      *zap.Logger
	now      func() time.Time
}

func NewWorker(client *Client) *Worker {
	return &Worker{
		client:   client,
		handlers: map[string]Handler{},
		log:      client.Log,
		now:      time.Now,
	}
}

// Register binds a task name to its handler. Must be called before
// Start.
func (w *Worker) Register(task string, h Handler) {
	w.handlers[task] = h
}

// Start subscribes every registered task and begins processing in
// background goroutines. Returns after subscriptions are established.
func (w *Worker) Start(ctx context.Context) error {
	for task := range w.handlers {
		sub, err := w.client.JS.PullSubscribe(
			taskSubjectPrefix+task,
			"worker-"+task,
			nats.BindStream(StreamTasks),
		)
		if err != nil {
			return err
		}
		w.log.Info("task consumer initialized",
			zap.String("task", task),
			zap.String("durable", "worker-"+task),
		)
		go w.consume(ctx, task, sub)
	}
	return nil
}

func (w *Worker) consume(ctx context.Context, task string, sub *nats.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msgs, err := sub.Fetch(10, nats.Context(ctx))
			if err != nil {
				continue // timeout or ctx cancel, fetch again
			}
			for _, msg := range msgs {
				w.processMessage(ctx, task, msg)
			}
		}
	}
}

// processMessage applies the scheduling headers and acknowledgment
// discipline around the handler. Separated from the handler call so the
// header logic is testable without a live NATS connection.
func (w *Worker) processMessage(ctx context.Context, task string, msg *nats.Msg) {
	now := w.now()
	if expiresBefore(msg.Header, now) {
		w.log.Info("dropping expired task", zap.String("task", task))
		msg.Term()
		return
	}
	if hold := holdFor(msg.Header, now); hold > 0 {
		msg.NakWithDelay(hold)
		return
	}

	if err := w.handlers[task](ctx, msg.Data); err != nil {
		w.log.Error("task failed", zap.String("task", task), zap.Error(err))
	}
	msg.Ack()
}
