package handlers

import (
	"net/http"
	"strings"

	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
)

type UsersHandler struct {
	DB      store.Store
	Reviews *service.ReviewService
}

// Me returns the caller's full record.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	user, err := h.DB.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req models.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := service.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.DB.UpdateProfile(r.Context(), userID, req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.DB.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Profile is the public view of another user. Deactivated users are hidden.
func (h *UsersHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	user, err := h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !user.IsActive {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *UsersHandler) Books(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	page := pageFromQuery(r)
	books, total, err := h.DB.ListBooks(r.Context(), models.BookFilter{Owner: id, Page: page})
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range books {
		setCoverURL(&books[i])
	}
	writeList(w, books, page, total)
}

func (h *UsersHandler) ReviewsReceived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	page := pageFromQuery(r)
	reviews, total, err := h.Reviews.ListForUser(r.Context(), id, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, reviews, page, total)
}
