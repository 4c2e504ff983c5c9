package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const (
	sessionCookieName = "triage_session"
	sessionTTL        = 7 * 24 * time.Hour

	hiddenSetPrefix = "hidden_tracebacks:"
)

// SessionStore keeps each user's hidden-traceback set server side,
// keyed by a cookie. Background tasks never touch it.
type SessionStore struct {
	rdb *redis.Client
}

func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

// sessionID returns the request's session id, minting a cookie when the
// request has none.
func sessionID(c echo.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(sessionTTL),
	})
	return id
}

// HiddenTexts lists the session's dismissed traceback texts.
func (s *SessionStore) HiddenTexts(ctx context.Context, sessionID string) ([]string, error) {
	return s.rdb.SMembers(ctx, hiddenSetPrefix+sessionID).Result()
}

// Hide dismisses one traceback text for the session.
func (s *SessionStore) Hide(ctx context.Context, sessionID, tracebackText string) error {
	key := hiddenSetPrefix + sessionID
	if err := s.rdb.SAdd(ctx, key, tracebackText).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, sessionTTL).Err()
}

// Clear restores everything the session hid.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, hiddenSetPrefix+sessionID).Err()
}
