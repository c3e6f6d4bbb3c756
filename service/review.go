package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ReviewStore interface {
	SwapByID(ctx context.Context, id primitive.ObjectID) (*models.Swap, error)
	AllUserIDs(ctx context.Context) ([]primitive.ObjectID, error)
	SetUserRating(ctx context.Context, id primitive.ObjectID, rating float64, total int) error
	InsertReview(ctx context.Context, review *models.Review) (primitive.ObjectID, error)
	ReviewByID(ctx context.Context, id primitive.ObjectID) (*models.Review, error)
	ReviewExists(ctx context.Context, reviewer, reviewee, swap primitive.ObjectID) (bool, error)
	ListReviews(ctx context.Context, f models.ReviewFilter) ([]models.Review, int64, error)
	UpdateReview(ctx context.Context, id primitive.ObjectID, rating *int, comment *string, at time.Time) error
	SoftDeleteReview(ctx context.Context, id primitive.ObjectID, at time.Time) error
	RatingSummary(ctx context.Context, reviewee primitive.ObjectID) (models.RatingSummary, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type CreateReviewInput struct {
	SwapID     primitive.ObjectID `json:"-"`
	RevieweeID primitive.ObjectID `json:"-"`
	Rating     int                `json:"rating" validate:"min=1,max=5"`
	Comment    string             `json:"comment" validate:"max=500"`
}

type UpdateReviewInput struct {
	Rating  *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

// Eligibility answers whether a user may currently review the other party of a swap.
type Eligibility struct {
	Eligible   bool               `json:"eligible"`
	Reason     string             `json:"reason,omitempty"`
	RevieweeID primitive.ObjectID `json:"revieweeId,omitempty"`
}

// ReviewService persists reviews and keeps each reviewee's rating and totalRatings equal
// to the aggregate of their active reviews. The recompute runs in the same call as the write.
type ReviewService struct {
	store ReviewStore
	log   *utils.Logger
	Now   func() time.Time
}

func NewReviewService(st ReviewStore, logger *utils.Logger) *ReviewService {
	return &ReviewService{store: st, log: logger, Now: time.Now}
}

func (s *ReviewService) Create(ctx context.Context, reviewerID primitive.ObjectID, in CreateReviewInput) (*models.Review, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if in.SwapID.IsZero() || in.RevieweeID.IsZero() {
		return nil, fmt.Errorf("%w: swapId and revieweeId are required", ErrInvalidInput)
	}
	swap, err := s.swap(ctx, in.SwapID)
	if err != nil {
		return nil, err
	}
	if swap.Status != models.SwapCompleted {
		return nil, fmt.Errorf("%w: only completed swaps can be reviewed", ErrPreconditionFailed)
	}
	if !swap.HasParty(reviewerID) {
		return nil, fmt.Errorf("%w: only swap parties can leave a review", ErrForbidden)
	}
	if swap.Counterpart(reviewerID) != in.RevieweeID {
		return nil, fmt.Errorf("%w: reviewee must be the other party of the swap", ErrPreconditionFailed)
	}
	exists, err := s.store.ReviewExists(ctx, reviewerID, in.RevieweeID, in.SwapID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: you have already reviewed this swap", ErrConflict)
	}

	now := s.Now()
	review := &models.Review{
		Reviewer:  reviewerID,
		Reviewee:  in.RevieweeID,
		Swap:      in.SwapID,
		Rating:    in.Rating,
		Comment:   in.Comment,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		id, err := s.store.InsertReview(ctx, review)
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: you have already reviewed this swap", ErrConflict)
		}
		if err != nil {
			return err
		}
		review.ID = id
		return s.recompute(ctx, review.Reviewee)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("review %s created: swap=%s reviewee=%s rating=%d", review.ID.Hex(), review.Swap.Hex(), review.Reviewee.Hex(), review.Rating)
	return review, nil
}

// Update edits a review; only its author may do so. The rating is recomputed only when it changed.
func (s *ReviewService) Update(ctx context.Context, actorID, reviewID primitive.ObjectID, in UpdateReviewInput) (*models.Review, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	review, err := s.review(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.Reviewer != actorID {
		return nil, fmt.Errorf("%w: only the reviewer can edit this review", ErrForbidden)
	}
	if in.Rating == nil && in.Comment == nil {
		return review, nil
	}
	ratingChanged := in.Rating != nil && *in.Rating != review.Rating
	now := s.Now()
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateReview(ctx, reviewID, in.Rating, in.Comment, now); err != nil {
			return notFoundReview(reviewID, err)
		}
		if ratingChanged {
			return s.recompute(ctx, review.Reviewee)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if in.Rating != nil {
		review.Rating = *in.Rating
	}
	if in.Comment != nil {
		review.Comment = *in.Comment
	}
	review.UpdatedAt = now
	return review, nil
}

// Delete soft-deletes a review. moderator lets an admin remove reviews they did not write.
func (s *ReviewService) Delete(ctx context.Context, actorID, reviewID primitive.ObjectID, moderator bool) error {
	review, err := s.review(ctx, reviewID)
	if err != nil {
		return err
	}
	if !moderator && review.Reviewer != actorID {
		return fmt.Errorf("%w: only the reviewer or a moderator can delete this review", ErrForbidden)
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.SoftDeleteReview(ctx, reviewID, s.Now()); err != nil {
			return notFoundReview(reviewID, err)
		}
		return s.recompute(ctx, review.Reviewee)
	})
	if err != nil {
		return err
	}
	s.log.Info("review %s deleted by %s (moderator=%t)", reviewID.Hex(), actorID.Hex(), moderator)
	return nil
}

func (s *ReviewService) Get(ctx context.Context, reviewID primitive.ObjectID) (*models.Review, error) {
	return s.review(ctx, reviewID)
}

// ListForUser lists active reviews the user received.
func (s *ReviewService) ListForUser(ctx context.Context, userID primitive.ObjectID, page models.Page) ([]models.Review, int64, error) {
	return s.store.ListReviews(ctx, models.ReviewFilter{Reviewee: userID, Page: page})
}

// Eligibility never fails for a party of the swap; it explains why a review is not possible.
func (s *ReviewService) Eligibility(ctx context.Context, actorID, swapID primitive.ObjectID) (*Eligibility, error) {
	swap, err := s.swap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !swap.HasParty(actorID) {
		return nil, fmt.Errorf("%w: not a party to this swap", ErrForbidden)
	}
	reviewee := swap.Counterpart(actorID)
	if swap.Status != models.SwapCompleted {
		return &Eligibility{Reason: "swap is not completed"}, nil
	}
	exists, err := s.store.ReviewExists(ctx, actorID, reviewee, swap.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Eligibility{Reason: "already reviewed", RevieweeID: reviewee}, nil
	}
	return &Eligibility{Eligible: true, RevieweeID: reviewee}, nil
}

// RecomputeRating rewrites a user's rating and totalRatings from their active reviews.
func (s *ReviewService) RecomputeRating(ctx context.Context, userID primitive.ObjectID) (models.RatingSummary, error) {
	var sum models.RatingSummary
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		sum, err = s.store.RatingSummary(ctx, userID)
		if err != nil {
			return err
		}
		return s.setRating(ctx, userID, sum)
	})
	return sum, err
}

// RecomputeAll repairs every user's derived rating. It returns how many users were updated.
func (s *ReviewService) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.store.AllUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.RecomputeRating(ctx, id); err != nil {
			return n, fmt.Errorf("recompute rating for %s: %w", id.Hex(), err)
		}
		n++
	}
	s.log.Info("recomputed ratings for %d users", n)
	return n, nil
}

func (s *ReviewService) recompute(ctx context.Context, userID primitive.ObjectID) error {
	sum, err := s.store.RatingSummary(ctx, userID)
	if err != nil {
		return fmt.Errorf("rating summary for %s: %w", userID.Hex(), err)
	}
	return s.setRating(ctx, userID, sum)
}

func (s *ReviewService) setRating(ctx context.Context, userID primitive.ObjectID, sum models.RatingSummary) error {
	err := s.store.SetUserRating(ctx, userID, sum.Average(), sum.Count)
	if errors.Is(err, store.ErrNotFound) {
		// reviewee was hard-deleted; nothing left to keep in sync
		s.log.Info("rating recompute skipped: user %s not found", userID.Hex())
		return nil
	}
	return err
}

func (s *ReviewService) swap(ctx context.Context, id primitive.ObjectID) (*models.Swap, error) {
	swap, err := s.store.SwapByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: swap %s", ErrNotFound, id.Hex())
	}
	return swap, err
}

func (s *ReviewService) review(ctx context.Context, id primitive.ObjectID) (*models.Review, error) {
	r, err := s.store.ReviewByID(ctx, id)
	if err != nil {
		return nil, notFoundReview(id, err)
	}
	return r, nil
}

func notFoundReview(id primitive.ObjectID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: review %s", ErrNotFound, id.Hex())
	}
	return err
}
