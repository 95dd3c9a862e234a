package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vbonduro/reviewsync/internal/domain"
	"github.com/vbonduro/reviewsync/internal/replay"
)

type syncResponse struct {
	*replay.Result
	Error string `json:"error,omitempty"`
}

// handleSync runs a replay pass for one channel and reports its outcome.
// Records that failed stay pending; that is reported, not treated as a
// request failure.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ch, err := domain.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// A pass runs to completion even if the caller goes away.
	res, err := s.replay.Replay(context.WithoutCancel(r.Context()), ch)
	if res == nil {
		s.writeError(w, "sync "+string(ch), err)
		return
	}

	body := syncResponse{Result: res}
	if err != nil {
		body.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, body)
}
