package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rflorenc/cics-explorer/internal/action"
	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
)

// Server holds shared state for all API handlers.
type Server struct {
	Profiles   *models.ProfileStore
	Jobs       *models.JobStore
	Client     *cmci.Client
	Executor   *action.Executor
	Containers *ContainerCache
	PageSize   int
	Log        zerolog.Logger
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLog(s.Log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Profiles
		r.Get("/profiles", s.ListProfiles)
		r.Post("/profiles", s.CreateProfile)
		r.Put("/profiles/{profile}", s.UpdateProfile)
		r.Delete("/profiles/{profile}", s.DeleteProfile)
		r.Post("/profiles/{profile}/test", s.TestProfile)

		// Resource browsing
		r.Get("/kinds", s.ListKinds)
		r.Get("/profiles/{profile}/resources/{kind}", s.ListResources)

		// Actions (async)
		r.Post("/profiles/{profile}/resources/{kind}/actions", s.RunAction)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	return r
}

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
