package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/container"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

type resourceView struct {
	Name       string            `json:"name"`
	Label      string            `json:"label"`
	Region     string            `json:"region,omitempty"`
	Attributes models.Attributes `json:"attributes"`
}

type pageResponse struct {
	Kind          string         `json:"kind"`
	Criteria      string         `json:"criteria"`
	FilterApplied bool           `json:"filter_applied"`
	Resources     []resourceView `json:"resources"`
	More          bool           `json:"more"`
	Fetched       int            `json:"fetched"`
	Total         int            `json:"total"`
}

func (s *Server) ListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, resources.All())
}

// splitValues parses a comma separated criteria query value.
func splitValues(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolve finds the profile and kind named in the URL, writing a 404 when
// either is unknown.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*models.Profile, resources.Kind, bool) {
	p := s.Profiles.Get(chi.URLParam(r, "profile"))
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return nil, resources.Kind{}, false
	}
	kind, ok := resources.Lookup(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource kind, expected one of: "+strings.Join(resources.Names(), ", "))
		return nil, resources.Kind{}, false
	}
	return p, kind, true
}

// containerFor returns the cached container for the node described by the
// query (region, plex, parent), creating it on first use.
func (s *Server) containerFor(p *models.Profile, kind resources.Kind, r *http.Request) (*container.Container, error) {
	q := r.URL.Query()
	scope := container.Scope{Profile: p, CICSPlex: p.CICSPlex, Region: p.Region}
	if q.Has("plex") {
		scope.CICSPlex = q.Get("plex")
	}
	if q.Has("region") {
		scope.Region = q.Get("region")
	}
	parent := q.Get("parent")
	if kind.ParentKey != "" && parent == "" {
		return nil, errParentRequired
	}

	key := container.Key(scope, kind.Name, parent)
	return s.Containers.GetOrCreate(key, func() *container.Container {
		opts := []container.Option{container.WithPageSize(s.PageSize), container.WithLogger(s.Log)}
		if parent != "" {
			if pk, ok := kind.ParentKind(); ok {
				opts = append(opts, container.WithParent(pk.Wrap(models.Attributes{pk.PrimaryKey: parent})))
			}
		}
		return container.New(s.Client, kind, scope, opts...)
	}), nil
}

// ListResources returns the next page of a node. Query: region, plex,
// parent (child kinds), criteria (comma separated names, "" clears) and
// reset=true to start over.
func (s *Server) ListResources(w http.ResponseWriter, r *http.Request) {
	p, kind, ok := s.resolve(w, r)
	if !ok {
		return
	}
	ct, err := s.containerFor(p, kind, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	if q.Has("criteria") {
		if values := splitValues(q.Get("criteria")); !slices.Equal(values, ct.Filter()) {
			ct.SetCriteria(values)
		}
	}
	if q.Get("reset") == "true" {
		ct.Reset()
	}

	page, more, err := ct.FetchNextPage(r.Context())
	if err != nil {
		writeCMCIError(w, err, cmci.Context{Operation: "list", ResourceType: kind.ResourceName, ProfileName: p.Name})
		return
	}

	views := make([]resourceView, 0, len(page))
	for _, res := range page {
		views = append(views, resourceView{
			Name:       res.Name(),
			Label:      kind.DisplayLabel(res),
			Region:     res.Region(),
			Attributes: res.Attributes,
		})
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Kind:          kind.Name,
		Criteria:      ct.Criteria(),
		FilterApplied: ct.IsFilterApplied(),
		Resources:     views,
		More:          more,
		Fetched:       ct.FetchedCount(),
		Total:         ct.RecordCount(),
	})
}
