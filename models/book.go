package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Condition values a listing may declare.
const (
	ConditionNew      = "New"
	ConditionLikeNew  = "Like New"
	ConditionVeryGood = "Very Good"
	ConditionGood     = "Good"
	ConditionFair     = "Fair"
	ConditionPoor     = "Poor"
)

var ValidConditions = []string{ConditionNew, ConditionLikeNew, ConditionVeryGood, ConditionGood, ConditionFair, ConditionPoor}

func IsValidCondition(c string) bool {
	for _, v := range ValidConditions {
		if v == c {
			return true
		}
	}
	return false
}

type Book struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Author      string             `bson:"author" json:"author"`
	Genre       string             `bson:"genre,omitempty" json:"genre,omitempty"`
	ISBN        string             `bson:"isbn,omitempty" json:"isbn,omitempty"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Condition   string             `bson:"condition" json:"condition"`
	Language    string             `bson:"language,omitempty" json:"language,omitempty"`
	// Owner is zero for anonymous listings; OwnerEmail is then the only contact.
	Owner      primitive.ObjectID `bson:"owner,omitempty" json:"owner"`
	OwnerEmail string             `bson:"ownerEmail,omitempty" json:"ownerEmail,omitempty"`
	CoverURL   string             `bson:"coverUrl,omitempty" json:"coverUrl,omitempty"`
	CoverS3Key string             `bson:"coverS3Key,omitempty" json:"-"`
	// IsAvailable is written only by swap transitions.
	IsAvailable bool      `bson:"isAvailable" json:"isAvailable"`
	IsActive    bool      `bson:"isActive" json:"isActive"`
	ViewCount   int       `bson:"viewCount" json:"viewCount"`
	SwapCount   int       `bson:"swapCount" json:"swapCount"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasOwner reports whether the listing belongs to a registered user.
func (b *Book) HasOwner() bool {
	return !b.Owner.IsZero()
}

func (b *Book) OwnedBy(userID primitive.ObjectID) bool {
	return b.HasOwner() && b.Owner == userID
}

// Swappable reports whether the book may take part in a new or accepted swap.
func (b *Book) Swappable() bool {
	return b.IsActive && b.IsAvailable
}

// BookFilter narrows book listings. Zero values mean "any".
type BookFilter struct {
	Search    string
	Genre     string
	Condition string
	Language  string
	Owner     primitive.ObjectID
	Available *bool
	Sort      string // newest, oldest, title, popular
	Page      Page
}

// BookUpdate holds owner-editable fields; nil means unchanged.
type BookUpdate struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Author      *string `json:"author" validate:"omitempty,min=1,max=100"`
	Genre       *string `json:"genre" validate:"omitempty,max=50"`
	ISBN        *string `json:"isbn" validate:"omitempty,max=20"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Condition   *string `json:"condition" validate:"omitempty,oneof='New' 'Like New' 'Very Good' 'Good' 'Fair' 'Poor'"`
	Language    *string `json:"language" validate:"omitempty,max=30"`
}

func (u BookUpdate) Empty() bool {
	return u.Title == nil && u.Author == nil && u.Genre == nil && u.ISBN == nil &&
		u.Description == nil && u.Condition == nil && u.Language == nil
}
