package web

import (
	"encoding/json"
	"net/http"
)

// maxReviewBody caps the JSON body of a new review.
const maxReviewBody = 64 << 10

type createReviewRequest struct {
	Name     string `json:"name"`
	Rating   int    `json:"rating"`
	Comments string `json:"comments"`
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid restaurant id"})
		return
	}

	reviews, err := s.service.GetReviews(r.Context(), id)
	if err != nil {
		s.writeError(w, "list reviews", err)
		return
	}
	s.writeJSON(w, http.StatusOK, reviews)
}

// handleCreateReview stores the review locally and answers 201 before the
// server has seen it; the body carries id 0 until replay succeeds.
func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid restaurant id"})
		return
	}

	var req createReviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReviewBody)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	review, err := s.service.AddReview(r.Context(), id, req.Name, req.Rating, req.Comments)
	if err != nil {
		s.writeError(w, "create review", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, review)
}
