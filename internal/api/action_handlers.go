package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rflorenc/cics-explorer/internal/action"
	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
)

var errParentRequired = errors.New("parent is required for this resource kind")

type actionRequest struct {
	Action    string          `json:"action"`
	Names     []string        `json:"names"`
	Parameter *cmci.Parameter `json:"parameter,omitempty"`
	// Wait polls until the resource reaches the state the action implies.
	Wait bool `json:"wait"`
}

// RunAction runs an action over the named resources of a node as a job.
// Region, plex and parent come from the query, as for ListResources.
func (s *Server) RunAction(w http.ResponseWriter, r *http.Request) {
	p, kind, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Action = strings.ToUpper(req.Action)
	if !action.Valid(req.Action) || !kind.Supports(req.Action) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("action %q is not supported for %s", req.Action, kind.Label))
		return
	}
	if len(req.Names) == 0 {
		writeError(w, http.StatusBadRequest, "names is required")
		return
	}
	ct, err := s.containerFor(p, kind, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Targets already listed keep their region; the rest are read first.
	var targets []models.Resource
	var missing []string
	stored := ct.Resources()
	for _, name := range req.Names {
		found := false
		for _, res := range stored {
			if strings.EqualFold(res.Name(), name) {
				targets = append(targets, res)
				found = true
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		fetched, err := ct.FetchResources(r.Context(), missing...)
		if err != nil {
			writeCMCIError(w, err, cmci.Context{Operation: "fetch", ResourceType: kind.ResourceName, ProfileName: p.Name})
			return
		}
		targets = append(targets, fetched...)
	}
	if len(targets) == 0 {
		writeError(w, http.StatusNotFound, "no matching resources")
		return
	}

	items := make([]action.Item, 0, len(targets))
	for _, t := range targets {
		items = append(items, action.Item{
			Collection: ct,
			Request:    action.Request{Action: req.Action, Target: t, Parameter: req.Parameter},
		})
	}
	var until action.Until
	if req.Wait {
		until = action.Expect(kind, req.Action)
	}

	job := s.Jobs.Create(req.Action, kind.Name, p.Name, len(items))
	go s.runActionJob(job, items, until)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) runActionJob(job *models.Job, items []action.Item, until action.Until) {
	job.AppendLog(fmt.Sprintf("%s %d %s resource(s) in profile %s", job.Action, len(items), job.Kind, job.Profile))
	res := s.Executor.RunBatch(job.Context(), items, until, func(ir action.ItemResult) {
		job.Progress(ir.Err != nil)
		switch {
		case ir.Skipped:
			job.AppendLog("SKIPPED: " + ir.Name)
		case ir.Err != nil:
			job.AppendLog("ERROR: " + ir.Err.Error())
		default:
			line := fmt.Sprintf("OK: %s (%s)", ir.Name, ir.Outcome.Status)
			if r := ir.Outcome.Resource; r != nil && r.Status() != "" {
				line += " status " + r.Status()
			}
			job.AppendLog(line)
		}
	})
	for key, err := range res.RefreshErrors {
		job.AppendLog(fmt.Sprintf("WARNING: refreshing %s failed: %v", key, err))
	}

	if failed := res.Failed(); failed > 0 {
		job.Fail(fmt.Sprintf("%d of %d item(s) failed", failed, len(items)))
		return
	}
	job.Complete()
}
