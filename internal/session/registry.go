package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rflorenc/cics-explorer/internal/models"
)

// Registry owns at most one Session per profile name. It performs no I/O.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.With().Str("component", "session").Logger(),
	}
}

// Get returns the session for the profile, creating it on first use.
func (r *Registry) Get(p *models.Profile) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[p.Name]; ok {
		return s
	}
	s := newSession(*p)
	r.sessions[p.Name] = s
	r.log.Debug().Str("profile", p.Name).Str("session", s.ID).Msg("created session")
	return s
}

// Renew discards stale and returns a fresh session for the profile. If
// another caller already replaced stale, the current session is returned
// instead so concurrent retries recreate the session only once.
func (r *Registry) Renew(p *models.Profile, stale *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[p.Name]; ok && cur != stale {
		return cur
	}
	s := newSession(*p)
	r.sessions[p.Name] = s
	r.log.Info().Str("profile", p.Name).Str("session", s.ID).Msg("recreated session after token expiry")
	return s
}

// Remove deletes the session for a profile name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Clear drops every session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
