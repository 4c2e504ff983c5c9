// Package sched is the named task queue: JetStream-backed FIFO queues
// per task name, with enqueue-time TTLs, delayed dispatch, and the
// shared retry ladder.
package sched

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamTasks holds every queued task; one subject per task name.
	StreamTasks = "TASKS"

	taskSubjectPrefix = "tasks."
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// ProvisionTaskStream creates the task stream if it does not exist yet.
// Safe to call from every binary at boot.
func (c *Client) ProvisionTaskStream() error {
	_, err := c.JS.AddStream(&nats.StreamConfig{
		Name:      StreamTasks,
		Subjects:  []string{taskSubjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("provision stream %s: %w", StreamTasks, err)
	}
	return nil
}

// Connected reports whether the underlying connection is up, for
// healthchecks.
func (c *Client) Connected() bool {
	return c.Conn != nil && c.Conn.Status() == nats.CONNECTED
}

// PurgeTasks drops every queued task.
func (c *Client) PurgeTasks() error {
	return c.JS.PurgeStream(StreamTasks)
}

// Close drains and closes the underlying NATS connection. Drain flushes
// pending publish acks and in-flight deliveries; fall back to Close if
// the connection is already gone.
func (c *Client) Close() {
	if c.Conn != nil {
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}
