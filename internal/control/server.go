// CLAUDE:SUMMARY chi HTTP API toggling recording: aggregate status for every tap plus per-tap routes.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds status request bodies; {"recording": true} is 19 bytes.
const maxBodyBytes = 4 << 10

// Controller is one switchable recorder, in practice a tap.
type Controller interface {
	Recording() bool
	// SetRecording is idempotent: setting the current state is a no-op.
	SetRecording(ctx context.Context, on bool) error
}

// Server serves:
//
//	GET  /healthz
//	GET  /status               {"recording": any tap recording, "taps": {id: bool}}
//	PUT  /status               {"recording": bool} applied to every tap
//	GET  /taps/{id}/status
//	PUT  /taps/{id}/status
type Server struct {
	taps   map[string]Controller
	ids    []string
	logger *slog.Logger
}

// NewServer serves the given taps, keyed by id.
func NewServer(taps map[string]Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ids := make([]string, 0, len(taps))
	for id := range taps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Server{taps: taps, ids: ids, logger: logger}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(middleware.NoCache)
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.getAll)
	r.Put("/status", s.putAll)
	r.Route("/taps/{id}", func(r chi.Router) {
		r.Get("/status", s.getOne)
		r.Put("/status", s.putOne)
	})
	return r
}

type aggregate struct {
	Recording bool            `json:"recording"`
	Taps      map[string]bool `json:"taps"`
}

func (s *Server) snapshot() aggregate {
	out := aggregate{Taps: make(map[string]bool, len(s.ids))}
	for _, id := range s.ids {
		on := s.taps[id].Recording()
		out.Taps[id] = on
		out.Recording = out.Recording || on
	}
	return out
}

func (s *Server) getAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) putAll(w http.ResponseWriter, r *http.Request) {
	st, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	var errs []error
	for _, id := range s.ids {
		if err := s.taps[id].SetRecording(r.Context(), st.Recording); err != nil {
			s.logger.Warn("control: set recording failed", "tap", id, "recording", st.Recording, "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "status": s.snapshot()})
		return
	}
	s.logger.Info("control: recording set", "recording", st.Recording, "taps", len(s.ids))
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) tap(w http.ResponseWriter, r *http.Request) (string, Controller, bool) {
	id := chi.URLParam(r, "id")
	c, ok := s.taps[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tap " + id})
	}
	return id, c, ok
}

func (s *Server) getOne(w http.ResponseWriter, r *http.Request) {
	if _, c, ok := s.tap(w, r); ok {
		writeJSON(w, http.StatusOK, Status{Recording: c.Recording()})
	}
}

func (s *Server) putOne(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.tap(w, r)
	if !ok {
		return
	}
	st, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	if err := c.SetRecording(r.Context(), st.Recording); err != nil {
		s.logger.Warn("control: set recording failed", "tap", id, "recording", st.Recording, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Status{Recording: c.Recording()})
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (Status, bool) {
	var body struct {
		Recording *bool `json:"recording"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Recording == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"recording": bool}`})
		return Status{}, false
	}
	return Status{Recording: *body.Recording}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
