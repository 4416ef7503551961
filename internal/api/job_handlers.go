package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/cics-explorer/internal/models"
)

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Jobs.List()
	views := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// CancelJob cancels a running job. Items not yet started are skipped; the
// item in flight finishes its current request.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Finished() {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	job.Cancel()
	job.AppendLog("CANCELLED: " + job.Action + " stopped by user")
	writeJSON(w, http.StatusOK, map[string]string{"status": models.JobCancelled})
}
