// Package session keeps one authenticated CMCI session per profile.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rflorenc/cics-explorer/internal/models"
)

// Verified is the tri-state outcome of the last authenticated call.
type Verified int

const (
	VerifiedUnknown Verified = iota
	VerifiedTrue
	VerifiedFalse
)

func (v Verified) String() string {
	switch v {
	case VerifiedTrue:
		return "true"
	case VerifiedFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Session represents one authenticated connection for one profile. The
// token slot is shared by every container and executor using the profile.
type Session struct {
	ID      string
	Profile models.Profile

	mu       sync.Mutex
	token    string
	verified Verified
}

func newSession(p models.Profile) *Session {
	return &Session{ID: uuid.New().String(), Profile: p}
}

// Token returns the current bearer token, "" when none has been obtained.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetToken stores a token returned by the server.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Verified returns whether the last call with these credentials succeeded.
func (s *Session) Verified() Verified {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// SetVerified records the outcome of an authenticated call.
func (s *Session) SetVerified(v Verified) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = v
}
