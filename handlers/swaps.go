package handlers

import (
	"net/http"
	"time"

	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SwapsHandler struct {
	Swaps   *service.SwapService
	Reviews *service.ReviewService
}

type CreateSwapRequest struct {
	RequestedBookID string `json:"requestedBookId"`
	OfferedBookID   string `json:"offeredBookId"`
	Message         string `json:"message"`
}

type swapAction func(r *http.Request, actor, id primitive.ObjectID) (*models.Swap, error)

func views(swaps []models.Swap, now time.Time) []models.SwapView {
	out := make([]models.SwapView, len(swaps))
	for i := range swaps {
		out[i] = swaps[i].View(now)
	}
	return out
}

func (h *SwapsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateSwapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requested, err := bodyID(req.RequestedBookID, "requestedBookId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	offered, err := bodyID(req.OfferedBookID, "offeredBookId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	swap, err := h.Swaps.Create(r.Context(), userID, service.CreateSwapInput{
		RequestedBookID: requested,
		OfferedBookID:   offered,
		Message:         req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, swap.View(time.Now()))
}

func (h *SwapsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	page := pageFromQuery(r)
	swaps, total, err := h.Swaps.List(r.Context(), userID, q.Get("role"), models.SwapStatus(q.Get("status")), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, views(swaps, time.Now()), page, total)
}

func (h *SwapsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "swap")
	if !ok {
		return
	}
	swap, err := h.Swaps.Get(r.Context(), userID, id, middleware.IsAdmin(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swap.View(time.Now()))
}

func (h *SwapsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var in service.RespondInput
	h.transition(w, r, &in, func(r *http.Request, actor, id primitive.ObjectID) (*models.Swap, error) {
		return h.Swaps.Accept(r.Context(), actor, id, in)
	})
}

func (h *SwapsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var in service.RespondInput
	h.transition(w, r, &in, func(r *http.Request, actor, id primitive.ObjectID) (*models.Swap, error) {
		return h.Swaps.Decline(r.Context(), actor, id, in)
	})
}

func (h *SwapsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(r *http.Request, actor, id primitive.ObjectID) (*models.Swap, error) {
		return h.Swaps.Complete(r.Context(), actor, id)
	})
}

func (h *SwapsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(r *http.Request, actor, id primitive.ObjectID) (*models.Swap, error) {
		return h.Swaps.Cancel(r.Context(), actor, id)
	})
}

// transition runs a PUT state change. body, when non-nil, is decoded from an optional JSON body.
func (h *SwapsHandler) transition(w http.ResponseWriter, r *http.Request, body interface{}, do swapAction) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "swap")
	if !ok {
		return
	}
	if body != nil && !decodeOptionalJSON(w, r, body) {
		return
	}
	swap, err := do(r, userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swap.View(time.Now()))
}

// Eligible reports whether the caller may review the other party of the swap now.
func (h *SwapsHandler) Eligible(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "swap")
	if !ok {
		return
	}
	e, err := h.Reviews.Eligibility(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
