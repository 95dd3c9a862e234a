package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vbonduro/reviewsync/internal/remote"
	"github.com/vbonduro/reviewsync/internal/service"
	"github.com/vbonduro/reviewsync/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	venues, err := s.service.FilterVenues(r.Context(),
		strings.TrimSpace(query.Get("cuisine")),
		strings.TrimSpace(query.Get("neighborhood")),
	)
	if err != nil {
		s.writeError(w, "list venues", err)
		return
	}
	s.writeJSON(w, http.StatusOK, venues)
}

func (s *Server) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid restaurant id"})
		return
	}

	venue, err := s.service.GetVenue(r.Context(), id)
	if err != nil {
		s.writeError(w, "get venue", err)
		return
	}
	s.writeJSON(w, http.StatusOK, venue)
}

// handleToggleFavorite flips the stored flag. The response reflects the new
// value at once; delivery to the server happens on replay.
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid restaurant id"})
		return
	}

	venue, err := s.service.GetVenue(r.Context(), id)
	if err != nil {
		s.writeError(w, "toggle favorite", err)
		return
	}
	updated, err := s.service.ToggleFavorite(r.Context(), venue)
	if err != nil {
		s.writeError(w, "toggle favorite", err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCuisines(w http.ResponseWriter, r *http.Request) {
	cuisines, err := s.service.Cuisines(r.Context())
	if err != nil {
		s.writeError(w, "list cuisines", err)
		return
	}
	s.writeJSON(w, http.StatusOK, cuisines)
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	hoods, err := s.service.Neighborhoods(r.Context())
	if err != nil {
		s.writeError(w, "list neighborhoods", err)
		return
	}
	s.writeJSON(w, http.StatusOK, hoods)
}

// writeError maps service errors onto status codes. A venue the server does
// not know surfaces as a non-2xx NetworkError and is reported as 404.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	var netErr *remote.NetworkError
	switch {
	case errors.Is(err, service.ErrInvalidReview):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound),
		errors.As(err, &netErr) && netErr.StatusCode == http.StatusNotFound:
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, remote.ErrNetwork):
		s.logger.Warn(op+" failed", "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "offline"})
	default:
		s.logger.Error(op+" failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
