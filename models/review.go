package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxReviewComment = 500
)

// Review is unique on (reviewer, reviewee, swap).
type Review struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Reviewer  primitive.ObjectID `bson:"reviewer" json:"reviewer"`
	Reviewee  primitive.ObjectID `bson:"reviewee" json:"reviewee"`
	Swap      primitive.ObjectID `bson:"swap" json:"swap"`
	Rating    int                `bson:"rating" json:"rating"`
	Comment   string             `bson:"comment,omitempty" json:"comment,omitempty"`
	IsActive  bool               `bson:"isActive" json:"isActive"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type ReviewFilter struct {
	Reviewee primitive.ObjectID
	Reviewer primitive.ObjectID
	Swap     primitive.ObjectID
	Page     Page
}

// RatingSummary is the aggregate over a user's active received reviews.
type RatingSummary struct {
	Sum   int `bson:"sum"`
	Count int `bson:"count"`
}

// Average returns the mean rounded to one decimal; zero reviews give 0.
func (r RatingSummary) Average() float64 {
	if r.Count == 0 {
		return 0
	}
	return math.Round(float64(r.Sum)/float64(r.Count)*10) / 10
}
