package mfa

import (
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// PreAuthSession is the explicit state machine record spec §9 calls for instead of
// an in-memory continuation: "password verified, MFA pending", addressable by a
// short-lived token so the flow survives across requests. The record lives in this
// process's memory only; it is not shared between processes.
type PreAuthSession struct {
	Token        string
	UserID       int64
	Method       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	InFlight     string // method currently being attempted, "" if none
	FailureCount int
	LastTOTPStep int64 // replay guard: last accepted 30s step index, 0 if none yet

	EmailCodeHash      string
	EmailCodeExpiresAt time.Time
	EmailCodeAttempts  int

	WebauthnChallenge []byte
}

// PreAuthStore issues and tracks PreAuthSession records. Backed by patrickmn/go-cache
// rather than a SQL table: these records are genuinely transient (5-minute default
// TTL per spec §4.3) and need no durability across a restart — a restart simply
// forces the affected logins to start over: their tokens are no longer found and the
// MFA operations reply ChallengeUnknown.
type PreAuthStore struct {
	c *cache.Cache
}

func NewPreAuthStore(ttl time.Duration) *PreAuthStore {
	return &PreAuthStore{c: cache.New(ttl, ttl/2)}
}

// Issue creates a new pre-auth session bound to userID and the chosen MFA method.
func (s *PreAuthStore) Issue(userID int64, method string, ttl time.Duration) *PreAuthSession {
	now := time.Now().UTC()

	session := &PreAuthSession{
		Token:     uuid.NewString(),
		UserID:    userID,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	s.c.Set(session.Token, session, ttl)

	return session
}

// Get loads a session by token, returning (nil, false) if unknown, expired, or
// invalidated.
func (s *PreAuthStore) Get(token string) (*PreAuthSession, bool) {
	v, ok := s.c.Get(token)
	if !ok {
		return nil, false
	}

	session := v.(*PreAuthSession)
	if time.Now().UTC().After(session.ExpiresAt) {
		s.c.Delete(token)

		return nil, false
	}

	return session, true
}

// Save persists mutations to an existing session (failure count, in-flight method).
func (s *PreAuthStore) Save(session *PreAuthSession) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		s.c.Delete(session.Token)

		return
	}

	s.c.Set(session.Token, session, ttl)
}

// Invalidate removes a session outright, used when the failure counter trips or MFA
// completes.
func (s *PreAuthStore) Invalidate(token string) {
	s.c.Delete(token)
}
