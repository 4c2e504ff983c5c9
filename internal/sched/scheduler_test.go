package sched

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestExpiresBefore(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	header := nats.Header{}
	assert.False(t, expiresBefore(header, now), "no header means no expiry")

	header.Set(headerExpiresAt, now.Add(time.Minute).Format(time.RFC3339Nano))
	assert.False(t, expiresBefore(header, now))
	assert.False(t, expiresBefore(header, now.Add(60*time.Second)))
	assert.True(t, expiresBefore(header, now.Add(61*time.Second)))

	header.Set(headerExpiresAt, "garbage")
	assert.False(t, expiresBefore(header, now), "unparseable expiry is ignored")
}

func TestHoldFor(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	header := nats.Header{}
	assert.Zero(t, holdFor(header, now))

	header.Set(headerNotBefore, now.Add(30*time.Second).Format(time.RFC3339Nano))
	assert.Equal(t, 30*time.Second, holdFor(header, now))
	assert.Zero(t, holdFor(header, now.Add(time.Minute)))
}

func TestEnqueueOptionsSetHeaders(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := nats.NewMsg("tasks.realtime_update")

	WithExpiresIn(time.Minute)(msg, now)
	WithDelay(5 * time.Second)(msg, now)
	WithDedupeID("realtime:2024-05-01T12:00")(msg, now)

	assert.Equal(t, now.Add(time.Minute).Format(time.RFC3339Nano), msg.Header.Get(headerExpiresAt))
	assert.Equal(t, now.Add(5*time.Second).Format(time.RFC3339Nano), msg.Header.Get(headerNotBefore))
	assert.Equal(t, "realtime:2024-05-01T12:00", msg.Header.Get(nats.MsgIdHdr))

	// Round trip through the worker-side checks.
	assert.False(t, expiresBefore(msg.Header, now.Add(59*time.Second)))
	assert.True(t, expiresBefore(msg.Header, now.Add(61*time.Second)))
}
