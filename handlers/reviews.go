package handlers

import (
	"net/http"

	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/service"
)

type ReviewsHandler struct {
	Reviews *service.ReviewService
}

type CreateReviewRequest struct {
	SwapID     string `json:"swapId"`
	RevieweeID string `json:"revieweeId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (h *ReviewsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	swapID, err := bodyID(req.SwapID, "swapId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	revieweeID, err := bodyID(req.RevieweeID, "revieweeId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	review, err := h.Reviews.Create(r.Context(), userID, service.CreateReviewInput{
		SwapID:     swapID,
		RevieweeID: revieweeID,
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (h *ReviewsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "review")
	if !ok {
		return
	}
	review, err := h.Reviews.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *ReviewsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "review")
	if !ok {
		return
	}
	var in service.UpdateReviewInput
	if !decodeJSON(w, r, &in) {
		return
	}
	review, err := h.Reviews.Update(r.Context(), userID, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// Delete is the reviewer's own soft delete; moderators go through the admin route.
func (h *ReviewsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "review")
	if !ok {
		return
	}
	if err := h.Reviews.Delete(r.Context(), userID, id, false); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
