package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

// profileView is a profile as shown to clients: no password, plus the
// verification state of its session.
type profileView struct {
	*models.Profile
	Password string `json:"password,omitempty"`
	Verified string `json:"verified"`
}

func (s *Server) viewProfile(p *models.Profile) profileView {
	return profileView{
		Profile:  p,
		Password: p.MaskedPassword(),
		Verified: s.Client.Sessions().Get(p).Verified().String(),
	}
}

type profileRequest struct {
	Name               string `json:"name"`
	Scheme             string `json:"scheme"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	User               string `json:"user"`
	Password           string `json:"password"`
	RejectUnauthorized *bool  `json:"rejectUnauthorized"`
	CICSPlex           string `json:"cicsPlex"`
	Region             string `json:"regionName"`
}

func (req profileRequest) profile() *models.Profile {
	p := &models.Profile{
		Name:               req.Name,
		Scheme:             req.Scheme,
		Host:               req.Host,
		Port:               req.Port,
		User:               req.User,
		Password:           req.Password,
		RejectUnauthorized: true,
		CICSPlex:           req.CICSPlex,
		Region:             req.Region,
	}
	if req.RejectUnauthorized != nil {
		p.RejectUnauthorized = *req.RejectUnauthorized
	}
	return p
}

func (s *Server) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.Profiles.List()
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, s.viewProfile(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	p := req.profile()
	p.ApplyDefaults()
	if !s.Profiles.Create(p) {
		writeError(w, http.StatusConflict, "profile already exists")
		return
	}
	writeJSON(w, http.StatusCreated, s.viewProfile(p))
}

// UpdateProfile replaces a profile's settings. An empty password keeps the
// stored one. The session, HTTP client and cached containers built from the
// old settings are dropped.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profile")
	cur := s.Profiles.Get(name)
	if cur == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	req.Name = name
	if req.Password == "" {
		req.Password = cur.Password
	}
	p := req.profile()
	p.CACert = cur.CACert
	p.ApplyDefaults()
	if !s.Profiles.Update(p) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	s.Client.Forget(name)
	s.Containers.DropProfile(name)
	writeJSON(w, http.StatusOK, s.viewProfile(p))
}

// DeleteProfile removes the profile together with its session and cached
// containers.
func (s *Server) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profile")
	if !s.Profiles.Delete(name) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	s.Client.Forget(name)
	s.Containers.DropProfile(name)
	w.WriteHeader(http.StatusNoContent)
}

// TestProfile checks connectivity and credentials by reading the region
// table in the profile's scope.
func (s *Server) TestProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "profile")
	p := s.Profiles.Get(name)
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	kind, _ := resources.Lookup("region")
	resp, err := s.Client.Get(r.Context(), p, cmci.GetRequest{
		ResourceName: kind.ResourceName,
		CICSPlex:     p.CICSPlex,
		Region:       p.Region,
	})
	if err != nil {
		ce := cmci.Classify(err, cmci.Context{Operation: "connect to", ProfileName: p.Name})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       false,
			"error":    ce.Message,
			"kind":     ce.Kind.String(),
			"verified": s.Client.Sessions().Get(p).Verified().String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"regions":  resp.ResultSummary.RecordCount,
		"verified": s.Client.Sessions().Get(p).Verified().String(),
	})
}
