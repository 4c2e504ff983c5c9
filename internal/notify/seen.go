// Package notify posts novel tracebacks to chat, at most once per
// origin id.
package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// seenTTL is how long an origin id stays marked as posted. After two
// days an unresolved traceback is worth a reminder.
const seenTTL = 48 * time.Hour

const seenKeyPrefix = "seen_tracebacks:"

// SeenStore marks chat-posted tracebacks in redis. SETNX gives the
// at-most-once guarantee across workers.
type SeenStore struct {
	rdb *redis.Client
}

func NewSeenStore(rdb *redis.Client) *SeenStore {
	return &SeenStore{rdb: rdb}
}

// MarkIfNew atomically marks an origin id as posted. It returns true if
// this call did the marking, false if it was already marked.
func (s *SeenStore) MarkIfNew(ctx context.Context, originID string) (bool, error) {
	return s.rdb.SetNX(ctx, seenKeyPrefix+originID, "1", seenTTL).Result()
}
