package handlers

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/service"
)

type CoverResponse struct {
	ID       string `json:"id"`
	CoverURL string `json:"coverUrl"`
}

const defaultMaxCoverBytes = 5 << 20

// UploadCover stores a multipart "file" image as the book's cover. Owner only.
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
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
	if h.Images == nil {
		http.Error(w, `{"error":"upload not configured (missing S3)"}`, http.StatusServiceUnavailable)
		return
	}
	book, err := h.activeBook(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !book.OwnedBy(userID) {
		http.Error(w, `{"error":"only the owner can change the cover"}`, http.StatusForbidden)
		return
	}

	maxBytes := h.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxCoverBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		http.Error(w, `{"error":"failed to parse multipart form"}`, http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, `{"error":"failed to read file"}`, http.StatusInternalServerError)
		return
	}
	// trust the bytes, not the part header
	contentType := http.DetectContentType(data)
	if _, allowed := service.CoverContentTypes[contentType]; !allowed {
		http.Error(w, `{"error":"only jpeg, png and webp images are allowed"}`, http.StatusBadRequest)
		return
	}

	key, err := h.Images.Upload(r.Context(), service.CoverPrefix(id.Hex()), header.Filename, bytes.NewReader(data), contentType)
	if err != nil {
		log.Printf("book %s: cover upload: %v", id.Hex(), err)
		http.Error(w, `{"error":"failed to upload to storage"}`, http.StatusInternalServerError)
		return
	}
	coverURL := "/api/books/" + id.Hex() + "/cover"
	if err := h.DB.SetBookCover(r.Context(), id, key, coverURL); err != nil {
		_ = h.Images.Delete(r.Context(), key)
		writeError(w, r, err)
		return
	}
	if old := book.CoverS3Key; old != "" && old != key {
		if err := h.Images.Delete(r.Context(), old); err != nil {
			log.Printf("book %s: delete old cover %s: %v", id.Hex(), old, err)
		}
	}
	writeJSON(w, http.StatusCreated, CoverResponse{ID: id.Hex(), CoverURL: coverURL})
}

// Cover streams the uploaded cover (public so <img src> works).
func (h *BooksHandler) Cover(w http.ResponseWriter, r *http.Request) {
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
	if book.CoverS3Key == "" || h.Images == nil {
		http.Error(w, `{"error":"no cover"}`, http.StatusNotFound)
		return
	}
	body, contentType, err := h.Images.GetObject(r.Context(), book.CoverS3Key)
	if err != nil {
		http.Error(w, `{"error":"failed to load cover"}`, http.StatusInternalServerError)
		return
	}
	defer body.Close()
	if contentType != "" && strings.HasPrefix(contentType, "image/") {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	io.Copy(w, body)
}
