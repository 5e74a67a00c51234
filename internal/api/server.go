package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"runwarden/internal/auth"
	"runwarden/internal/lifecycle"
)

// Server exposes the run lifecycle over HTTP
type Server struct {
	service *lifecycle.Service
	auth    auth.Authenticator
	router  *chi.Mux
}

// New creates a new API server instance. Worker channel endpoints are open, every other endpoint
// needs an identity from authenticator.
func New(service *lifecycle.Service, authenticator auth.Authenticator) *Server {
	s := &Server{
		service: service,
		auth:    authenticator,
		router:  chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		serveJson(w, http.StatusOK, map[string]bool{"success": true})
	})

	s.router.Route("/api/processing", func(r chi.Router) {
		// trusted worker channel
		r.Post("/heartbeat", s.Heartbeat)
		r.Post("/progress", s.Progress)
		r.Post("/start", s.Start)
		r.Post("/complete", s.Complete)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/check-dead", s.CheckDead)
			r.Get("/active", s.Active)
			r.Post("/save-logs", s.SaveLogs)
			r.Post("/reset", s.Reset)
			r.Delete("/delete", s.Delete)
			r.Post("/resume", s.Resume)

			r.Get("/runs", s.ListRuns)
			r.Post("/runs", s.CreateRun)
			r.Get("/runs/{runID}", s.GetRun)
			r.Get("/runs/{runID}/events", s.ListEvents)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireUser rejects requests without a resolvable identity
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				log.Error().Err(err).Msg("Could not authenticate request")
			}
			serveError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}

func readJson(r *http.Request, payload any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close request body")
		}
	}()

	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		return errors.New("could not parse request body to payload")
	}
	return nil
}

func serveJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func serveError(w http.ResponseWriter, status int, message string) {
	serveJson(w, status, errorResponse{Success: false, Error: message})
}

// serveServiceError maps lifecycle errors to status codes. Anything unrecognised is a
// persistence fault, logged here and returned with its detail text.
func serveServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalid):
		serveError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		serveError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		serveError(w, http.StatusConflict, err.Error())
	default:
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
		serveError(w, http.StatusInternalServerError, "internal error: "+err.Error())
	}
}
