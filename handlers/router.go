package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kevinaaaquil/bookswap/middleware"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
)

type RouterConfig struct {
	DB           store.Store
	Swaps        *service.SwapService
	Reviews      *service.ReviewService
	Metadata     service.MetadataLookup
	Images       service.ImageStore
	JWTSecret    string
	TokenTTL     time.Duration
	MaxUploadMB  int64
	SecureCookie bool
	CORSOrigins  []string
	// Quiet drops the request logger (tests).
	Quiet bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL, SecureCookie: cfg.SecureCookie}
	usersHandler := &UsersHandler{DB: cfg.DB, Reviews: cfg.Reviews}
	booksHandler := &BooksHandler{DB: cfg.DB, Metadata: cfg.Metadata, Images: cfg.Images, MaxBytes: cfg.MaxUploadMB * 1024 * 1024}
	swapsHandler := &SwapsHandler{Swaps: cfg.Swaps, Reviews: cfg.Reviews}
	reviewsHandler := &ReviewsHandler{Reviews: cfg.Reviews}
	adminHandler := &AdminHandler{DB: cfg.DB, Swaps: cfg.Swaps, Reviews: cfg.Reviews}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.RequestID)
	if !cfg.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"welcome to bookswap."}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Public browsing
		r.Get("/books", booksHandler.List)
		r.Get("/books/lookup", booksHandler.Lookup)
		r.Get("/books/{id}", booksHandler.Get)
		r.Get("/books/{id}/cover", booksHandler.Cover)
		r.Get("/users/{id}", usersHandler.Profile)
		r.Get("/users/{id}/books", usersHandler.Books)
		r.Get("/users/{id}/reviews", usersHandler.ReviewsReceived)
		r.Get("/reviews/{id}", reviewsHandler.Get)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.Active(cfg.DB))

			r.Get("/users/me", usersHandler.Me)
			r.Patch("/users/me", usersHandler.UpdateMe)

			r.Post("/books", booksHandler.Create)
			r.Patch("/books/{id}", booksHandler.Update)
			r.Delete("/books/{id}", booksHandler.Delete)
			r.Post("/books/{id}/cover", booksHandler.UploadCover)

			r.Post("/swaps", swapsHandler.Create)
			r.Get("/swaps", swapsHandler.List)
			r.Get("/swaps/{id}", swapsHandler.Get)
			r.Put("/swaps/{id}/accept", swapsHandler.Accept)
			r.Put("/swaps/{id}/decline", swapsHandler.Decline)
			r.Put("/swaps/{id}/complete", swapsHandler.Complete)
			r.Put("/swaps/{id}/cancel", swapsHandler.Cancel)
			r.Get("/swaps/{id}/eligible", swapsHandler.Eligible)

			r.Post("/reviews", reviewsHandler.Create)
			r.Patch("/reviews/{id}", reviewsHandler.Update)
			r.Delete("/reviews/{id}", reviewsHandler.Delete)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Get("/stats", adminHandler.Stats)
				r.Get("/users", adminHandler.ListUsers)
				r.Put("/users/{id}/block", adminHandler.BlockUser)
				r.Put("/users/{id}/unblock", adminHandler.UnblockUser)
				r.Put("/users/{id}/deactivate", adminHandler.DeactivateUser)
				r.Delete("/users/{id}", adminHandler.DeleteUser)
				r.Delete("/books/{id}", adminHandler.DeleteBook)
				r.Delete("/reviews/{id}", adminHandler.DeleteReview)
				r.Post("/ratings/recompute", adminHandler.RecomputeRatings)
				r.Get("/swaps/expired", adminHandler.ExpiredSwaps)
				r.Get("/swaps/{id}/notifications", adminHandler.SwapNotifications)
			})
		})
	})
	return r
}
