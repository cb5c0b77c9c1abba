package domain

import "time"

// SessionState tracks the lifecycle of a portal session.
type SessionState string

const (
	SessionFresh   SessionState = "fresh"
	SessionValid   SessionState = "valid"
	SessionExpired SessionState = "expired"
	SessionInvalid SessionState = "invalid"
)

// Session holds the authenticated portal session material. It is owned
// exclusively by the session manager; other components only observe
// validity through the manager's contract.
type Session struct {
	token     string
	createdAt time.Time
	expiresAt time.Time
	state     SessionState
}

// NewSession creates a fresh session with an estimated lifetime.
func NewSession(token string, createdAt time.Time, ttl time.Duration) *Session {
	return &Session{
		token:     token,
		createdAt: createdAt,
		expiresAt: createdAt.Add(ttl),
		state:     SessionFresh,
	}
}

// Getters
func (s *Session) Token() string        { return s.token }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }
func (s *Session) State() SessionState  { return s.state }

// IsValid reports whether the session is usable at the given instant.
// The expiry is an estimate; the portal may invalidate earlier, which
// surfaces as an expired-session error on the next call.
func (s *Session) IsValid(now time.Time) bool {
	switch s.state {
	case SessionExpired, SessionInvalid:
		return false
	}
	return now.Before(s.expiresAt)
}

// MarkValid records that the portal accepted the session.
func (s *Session) MarkValid() {
	if s.state == SessionFresh {
		s.state = SessionValid
	}
}

// Expire marks the session expired.
func (s *Session) Expire() {
	s.state = SessionExpired
}

// Invalidate marks the session unusable regardless of its expiry estimate.
func (s *Session) Invalidate() {
	s.state = SessionInvalid
}
