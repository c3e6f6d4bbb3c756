package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
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

type BooksHandler struct {
	DB       store.Store
	Metadata service.MetadataLookup // nil disables ISBN prefill
	Images   service.ImageStore     // nil disables cover uploads
	MaxBytes int64
}

type CreateBookRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Author      string `json:"author" validate:"required,max=100"`
	Genre       string `json:"genre" validate:"max=50"`
	ISBN        string `json:"isbn" validate:"max=20"`
	Description string `json:"description" validate:"max=1000"`
	Condition   string `json:"condition" validate:"required,oneof='New' 'Like New' 'Very Good' 'Good' 'Fair' 'Poor'"`
	Language    string `json:"language" validate:"max=30"`
	CoverURL    string `json:"coverUrl" validate:"omitempty,url"`
}

var bookSorts = map[string]bool{"": true, "newest": true, "oldest": true, "title": true, "popular": true}

// Create lists a book owned by the caller. With an ISBN and no title, metadata prefills the listing.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateBookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.ISBN = service.NormalizeISBN(req.ISBN)
	if req.ISBN != "" && req.Title == "" {
		h.prefill(r.Context(), &req)
	}
	if err := service.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now()
	book := &models.Book{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		ISBN:        req.ISBN,
		Description: req.Description,
		Condition:   req.Condition,
		Language:    req.Language,
		Owner:       userID,
		OwnerEmail:  middleware.EmailFromContext(r.Context()),
		CoverURL:    req.CoverURL,
		IsAvailable: true,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := h.DB.InsertBook(r.Context(), book)
	if err != nil {
		http.Error(w, `{"error":"failed to save book"}`, http.StatusInternalServerError)
		return
	}
	book.ID = id
	writeJSON(w, http.StatusCreated, book)
}

// prefill fills empty fields from the ISBN lookup. Lookup failures leave the request as sent.
func (h *BooksHandler) prefill(ctx context.Context, req *CreateBookRequest) {
	if h.Metadata == nil {
		return
	}
	meta, err := h.Metadata.LookupISBN(ctx, req.ISBN)
	if err != nil {
		log.Printf("isbn prefill %s: %v", req.ISBN, err)
		return
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&req.Title, meta.Title)
	fill(&req.Author, meta.Author)
	fill(&req.Genre, meta.Genre)
	fill(&req.Language, meta.Language)
	fill(&req.Description, truncate(meta.Description, 1000))
	fill(&req.CoverURL, meta.CoverURL)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := models.BookFilter{
		Search:    strings.TrimSpace(q.Get("search")),
		Genre:     q.Get("genre"),
		Condition: q.Get("condition"),
		Language:  q.Get("language"),
		Sort:      q.Get("sort"),
		Page:      pageFromQuery(r),
	}
	if f.Condition != "" && !models.IsValidCondition(f.Condition) {
		http.Error(w, `{"error":"invalid condition"}`, http.StatusBadRequest)
		return
	}
	if !bookSorts[f.Sort] {
		http.Error(w, `{"error":"sort must be newest, oldest, title or popular"}`, http.StatusBadRequest)
		return
	}
	if v := q.Get("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, `{"error":"available must be true or false"}`, http.StatusBadRequest)
			return
		}
		f.Available = &b
	}
	if v := q.Get("owner"); v != "" {
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			http.Error(w, `{"error":"invalid owner id"}`, http.StatusBadRequest)
			return
		}
		f.Owner = id
	}
	books, total, err := h.DB.ListBooks(r.Context(), f)
	if err != nil {
		http.Error(w, `{"error":"failed to list books"}`, http.StatusInternalServerError)
		return
	}
	for i := range books {
		setCoverURL(&books[i])
	}
	writeList(w, books, f.Page, total)
}

// Lookup previews ISBN metadata without creating anything.
func (h *BooksHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Metadata == nil {
		http.Error(w, `{"error":"isbn lookup not configured"}`, http.StatusServiceUnavailable)
		return
	}
	meta, err := h.Metadata.LookupISBN(r.Context(), r.URL.Query().Get("isbn"))
	if errors.Is(err, service.ErrMetadataNotFound) {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, service.ErrInvalidInput) {
		writeError(w, r, err)
		return
	}
	if err != nil {
		log.Printf("isbn lookup: %v", err)
		http.Error(w, `{"error":"failed to fetch metadata"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := pathID(w, r, "id", "book")
	if !ok {
		return
	}
	book, err := h.activeBook(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.DB.IncrementBookViews(r.Context(), id); err != nil {
		log.Printf("book %s: increment views: %v", id.Hex(), err)
	} else {
		book.ViewCount++
	}
	setCoverURL(book)
	writeJSON(w, http.StatusOK, book)
}

// Update edits listing fields. Availability is not editable here; only swap transitions change it.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "book")
	if !ok {
		return
	}
	var req models.BookUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := service.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	book, err := h.activeBook(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !book.OwnedBy(userID) {
		http.Error(w, `{"error":"only the owner can edit this book"}`, http.StatusForbidden)
		return
	}
	if !req.Empty() {
		if req.ISBN != nil {
			isbn := service.NormalizeISBN(*req.ISBN)
			req.ISBN = &isbn
		}
		if err := h.DB.UpdateBook(r.Context(), id, req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	book, err = h.DB.BookByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setCoverURL(book)
	writeJSON(w, http.StatusOK, book)
}

// Delete soft-deletes a listing (owner or admin). Books held by a pending or accepted swap stay.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id", "book")
	if !ok {
		return
	}
	book, err := h.activeBook(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !book.OwnedBy(userID) && !middleware.IsAdmin(r.Context()) {
		http.Error(w, `{"error":"only the owner can delete this book"}`, http.StatusForbidden)
		return
	}
	if err := softDeleteBook(r.Context(), h.DB, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func softDeleteBook(ctx context.Context, db store.Store, id primitive.ObjectID) error {
	busy, err := db.BookInLiveSwap(ctx, id)
	if err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("%w: book is part of a pending or accepted swap", service.ErrPreconditionFailed)
	}
	return db.SoftDeleteBook(ctx, id)
}

func (h *BooksHandler) activeBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	book, err := h.DB.BookByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !book.IsActive {
		return nil, store.ErrNotFound
	}
	return book, nil
}

// setCoverURL points CoverURL at our cover stream when an uploaded cover exists.
func setCoverURL(book *models.Book) {
	if book.CoverS3Key == "" {
		return
	}
	book.CoverURL = "/api/books/" + book.ID.Hex() + "/cover"
}
