package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role constants for user authorization.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var ValidRoles = []string{RoleUser, RoleAdmin}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"` // bcrypt hash
	Role      string             `bson:"role" json:"role"`
	Bio       string             `bson:"bio,omitempty" json:"bio,omitempty"`
	Location  string             `bson:"location,omitempty" json:"location,omitempty"`
	Phone     string             `bson:"phone,omitempty" json:"phone,omitempty"`
	AvatarURL string             `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	IsActive  bool               `bson:"isActive" json:"isActive"`
	IsBlocked bool               `bson:"isBlocked" json:"isBlocked"`
	// Rating and TotalRatings are derived from active reviews where the user is reviewee.
	Rating       float64    `bson:"rating" json:"rating"`
	TotalRatings int        `bson:"totalRatings" json:"totalRatings"`
	TotalSwaps   int        `bson:"totalSwaps" json:"totalSwaps"`
	LastLogin    *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PublicProfile is what other users see.
type PublicProfile struct {
	ID           primitive.ObjectID `json:"id"`
	Name         string             `json:"name"`
	Bio          string             `json:"bio,omitempty"`
	Location     string             `json:"location,omitempty"`
	AvatarURL    string             `json:"avatarUrl,omitempty"`
	Rating       float64            `json:"rating"`
	TotalRatings int                `json:"totalRatings"`
	TotalSwaps   int                `json:"totalSwaps"`
	CreatedAt    time.Time          `json:"createdAt"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:           u.ID,
		Name:         u.Name,
		Bio:          u.Bio,
		Location:     u.Location,
		AvatarURL:    u.AvatarURL,
		Rating:       u.Rating,
		TotalRatings: u.TotalRatings,
		TotalSwaps:   u.TotalSwaps,
		CreatedAt:    u.CreatedAt,
	}
}

type ProfileUpdate struct {
	Name      *string `json:"name" validate:"omitempty,min=2,max=50"`
	Bio       *string `json:"bio" validate:"omitempty,max=500"`
	Location  *string `json:"location" validate:"omitempty,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty,url"`
}

type UserFilter struct {
	Search  string
	Blocked *bool
	Page    Page
}
