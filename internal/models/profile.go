package models

import (
	"fmt"
	"sort"
	"sync"
)

// Profile represents a user-configured CMCI connection to a CICSplex or a
// stand-alone region.
type Profile struct {
	Name               string `json:"name" yaml:"name"`
	Scheme             string `json:"scheme" yaml:"scheme"` // "http" or "https"
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	User               string `json:"user" yaml:"user"`
	Password           string `json:"-" yaml:"password"`
	RejectUnauthorized bool   `json:"rejectUnauthorized" yaml:"rejectUnauthorized"`
	CACert             string `json:"-" yaml:"caCert"` // PEM bundle, optional
	CICSPlex           string `json:"cicsPlex,omitempty" yaml:"cicsPlex"`
	Region             string `json:"regionName,omitempty" yaml:"regionName"`
}

// BaseURL returns the full base URL for this profile.
func (p *Profile) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", p.Scheme, p.Host, p.Port)
}

// ApplyDefaults fills in the scheme and port when they are unset.
func (p *Profile) ApplyDefaults() {
	if p.Scheme == "" {
		p.Scheme = "https"
	}
	if p.Port == 0 {
		if p.Scheme == "https" {
			p.Port = 443
		} else {
			p.Port = 80
		}
	}
}

// MaskedPassword returns a fixed-width mask when a password is set.
func (p *Profile) MaskedPassword() string {
	if p.Password == "" {
		return ""
	}
	return "••••••••"
}

// ProfileStore is an in-memory thread-safe store for profiles, keyed by name.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*Profile)}
}

// Create adds a profile. It returns false if the name is already taken.
func (s *ProfileStore) Create(p *Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Name]; ok {
		return false
	}
	s.profiles[p.Name] = p
	return true
}

// Get returns a profile by name, or nil if not found.
func (s *ProfileStore) Get(name string) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[name]
}

// List returns all profiles ordered by name.
func (s *ProfileStore) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Update replaces an existing profile's settings.
func (s *ProfileStore) Update(p *Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Name]; !ok {
		return false
	}
	s.profiles[p.Name] = p
	return true
}

// Delete removes a profile by name.
func (s *ProfileStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok {
		return false
	}
	delete(s.profiles, name)
	return true
}
