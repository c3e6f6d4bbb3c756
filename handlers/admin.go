package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AdminHandler is the moderation surface. Routes are mounted behind middleware.AdminOnly.
type AdminHandler struct {
	DB      store.Store
	Swaps   *service.SwapService
	Reviews *service.ReviewService
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.DB.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := models.UserFilter{Search: strings.TrimSpace(q.Get("search")), Page: pageFromQuery(r)}
	if v := q.Get("blocked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, `{"error":"blocked must be true or false"}`, http.StatusBadRequest)
			return
		}
		f.Blocked = &b
	}
	users, total, err := h.DB.ListUsers(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, users, f.Page, total)
}

func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	h.moderateUser(w, r, func(ctx context.Context, id primitive.ObjectID) error {
		return h.DB.SetUserBlocked(ctx, id, true)
	})
}

func (h *AdminHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	h.moderateUser(w, r, func(ctx context.Context, id primitive.ObjectID) error {
		return h.DB.SetUserBlocked(ctx, id, false)
	})
}

func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.moderateUser(w, r, func(ctx context.Context, id primitive.ObjectID) error {
		return h.DB.SetUserActive(ctx, id, false)
	})
}

// moderateUser applies a PUT moderation action. Admins cannot act on themselves.
func (h *AdminHandler) moderateUser(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id primitive.ObjectID) error) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adminID, _ := middleware.UserIDFromContext(r.Context())
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	if id == adminID {
		http.Error(w, `{"error":"cannot moderate your own account"}`, http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser deactivates by default; ?hard=true removes the record.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adminID, _ := middleware.UserIDFromContext(r.Context())
	id, ok := pathID(w, r, "id", "user")
	if !ok {
		return
	}
	if id == adminID {
		http.Error(w, `{"error":"cannot delete your own account"}`, http.StatusBadRequest)
		return
	}
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if !hard {
		if err := h.DB.SetUserActive(r.Context(), id, false); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	user, err := h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user.IsAdmin() {
		n, err := h.DB.AdminsCount(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if n <= 1 {
			http.Error(w, `{"error":"cannot delete the last admin"}`, http.StatusBadRequest)
			return
		}
	}
	if err := h.DB.DeleteUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "book")
	if !ok {
		return
	}
	book, err := h.DB.BookByID(r.Context(), id)
	if err == nil && !book.IsActive {
		err = store.ErrNotFound
	}
	if err == nil {
		err = softDeleteBook(r.Context(), h.DB, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adminID, _ := middleware.UserIDFromContext(r.Context())
	id, ok := pathID(w, r, "id", "review")
	if !ok {
		return
	}
	if err := h.Reviews.Delete(r.Context(), adminID, id, true); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RecomputeResponse struct {
	Users int `json:"users"`
}

func (h *AdminHandler) RecomputeRatings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := h.Reviews.RecomputeAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecomputeResponse{Users: n})
}

// SwapNotifications lists the emails attempted for a swap, failed ones included.
func (h *AdminHandler) SwapNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "swap")
	if !ok {
		return
	}
	logs, err := h.DB.SwapNotifications(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ExpiredSwaps reports pending swaps past expiresAt. Their status is left unchanged.
func (h *AdminHandler) ExpiredSwaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page := pageFromQuery(r)
	swaps, total, err := h.Swaps.ListExpired(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, views(swaps, time.Now()), page, total)
}
