package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrStatusMismatch means a compare-and-set transition found the swap in another status.
	ErrStatusMismatch = errors.New("store: swap status changed")
	// ErrBookUnavailable means a reservation found a book removed or already taken.
	ErrBookUnavailable = errors.New("store: book not available")
)

// Store is the persistence surface used by services and handlers.
// DB (MongoDB) and Memory both implement it.
type Store interface {
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	ListBooks(ctx context.Context, f models.BookFilter) ([]models.Book, int64, error)
	UpdateBook(ctx context.Context, id primitive.ObjectID, u models.BookUpdate) error
	SetBookCover(ctx context.Context, id primitive.ObjectID, s3Key, coverURL string) error
	SoftDeleteBook(ctx context.Context, id primitive.ObjectID) error
	IncrementBookViews(ctx context.Context, id primitive.ObjectID) error
	SetBooksAvailability(ctx context.Context, ids []primitive.ObjectID, available bool) error
	ReserveBooks(ctx context.Context, ids []primitive.ObjectID) error
	IncrementBookSwapCounts(ctx context.Context, ids []primitive.ObjectID) error

	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error)
	AllUserIDs(ctx context.Context) ([]primitive.ObjectID, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, u models.ProfileUpdate) error
	SetUserRole(ctx context.Context, id primitive.ObjectID, role string) error
	SetUserBlocked(ctx context.Context, id primitive.ObjectID, blocked bool) error
	SetUserActive(ctx context.Context, id primitive.ObjectID, active bool) error
	DeleteUser(ctx context.Context, id primitive.ObjectID) error
	TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
	IncrementUserSwaps(ctx context.Context, ids []primitive.ObjectID) error
	SetUserRating(ctx context.Context, id primitive.ObjectID, rating float64, total int) error
	AdminsCount(ctx context.Context) (int64, error)

	InsertSwap(ctx context.Context, swap *models.Swap) (primitive.ObjectID, error)
	SwapByID(ctx context.Context, id primitive.ObjectID) (*models.Swap, error)
	ListSwaps(ctx context.Context, f models.SwapFilter) ([]models.Swap, int64, error)
	LiveSwapExists(ctx context.Context, requester, requestedBook, offeredBook primitive.ObjectID) (bool, error)
	BookInLiveSwap(ctx context.Context, bookID primitive.ObjectID) (bool, error)
	TransitionSwap(ctx context.Context, id primitive.ObjectID, from, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error)

	InsertReview(ctx context.Context, review *models.Review) (primitive.ObjectID, error)
	ReviewByID(ctx context.Context, id primitive.ObjectID) (*models.Review, error)
	ReviewExists(ctx context.Context, reviewer, reviewee, swap primitive.ObjectID) (bool, error)
	ListReviews(ctx context.Context, f models.ReviewFilter) ([]models.Review, int64, error)
	UpdateReview(ctx context.Context, id primitive.ObjectID, rating *int, comment *string, at time.Time) error
	SoftDeleteReview(ctx context.Context, id primitive.ObjectID, at time.Time) error
	RatingSummary(ctx context.Context, reviewee primitive.ObjectID) (models.RatingSummary, error)

	Stats(ctx context.Context) (*models.Stats, error)
	InsertEmailLog(ctx context.Context, entry *models.EmailLog) error
	SwapNotifications(ctx context.Context, swapID primitive.ObjectID) ([]models.EmailLog, error)

	// WithTransaction runs fn atomically when the backend supports it; otherwise fn runs as-is.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// Transactional reports whether WithTransaction rolls back on error.
	Transactional() bool
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)

// Open connects the named driver ("mongo" or "memory") and returns it with its close func.
// Mongo indexes are ensured before returning.
func Open(ctx context.Context, driver, uri, dbName string, transactions bool) (Store, func(context.Context) error, error) {
	switch driver {
	case "memory":
		return NewMemory(), func(context.Context) error { return nil }, nil
	case "mongo", "":
		db, err := NewMongoDB(ctx, uri, dbName, transactions)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			_ = db.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return db, db.Disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", driver)
}
