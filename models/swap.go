package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapAccepted  SwapStatus = "accepted"
	SwapDeclined  SwapStatus = "declined"
	SwapCompleted SwapStatus = "completed"
	SwapCancelled SwapStatus = "cancelled"
)

// DefaultSwapTTL is how long a pending request stays acceptable.
const DefaultSwapTTL = 7 * 24 * time.Hour

var ValidSwapStatuses = map[string]bool{
	string(SwapPending):   true,
	string(SwapAccepted):  true,
	string(SwapDeclined):  true,
	string(SwapCompleted): true,
	string(SwapCancelled): true,
}

func IsValidSwapStatus(status string) bool {
	return ValidSwapStatuses[status]
}

// Live statuses hold both books; a triple may have at most one live swap.
var LiveSwapStatuses = []SwapStatus{SwapPending, SwapAccepted}

var swapTransitions = map[SwapStatus][]SwapStatus{
	SwapPending:  {SwapAccepted, SwapDeclined, SwapCancelled},
	SwapAccepted: {SwapCompleted, SwapCancelled},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to SwapStatus) bool {
	for _, s := range swapTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s SwapStatus) Terminal() bool {
	return s == SwapDeclined || s == SwapCompleted || s == SwapCancelled
}

func (s SwapStatus) Live() bool {
	return s == SwapPending || s == SwapAccepted
}

type Swap struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Requester       primitive.ObjectID `bson:"requester" json:"requester"`
	Owner           primitive.ObjectID `bson:"owner" json:"owner"`
	RequestedBook   primitive.ObjectID `bson:"requestedBook" json:"requestedBook"`
	OfferedBook     primitive.ObjectID `bson:"offeredBook" json:"offeredBook"`
	Status          SwapStatus         `bson:"status" json:"status"`
	Message         string             `bson:"message,omitempty" json:"message,omitempty"`
	ResponseMessage string             `bson:"responseMessage,omitempty" json:"responseMessage,omitempty"`
	MeetingLocation string             `bson:"meetingLocation,omitempty" json:"meetingLocation,omitempty"`
	MeetingDate     *time.Time         `bson:"meetingDate,omitempty" json:"meetingDate,omitempty"`
	ExpiresAt       time.Time          `bson:"expiresAt" json:"expiresAt"`
	CompletedAt     *time.Time         `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	IsActive        bool               `bson:"isActive" json:"isActive"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsExpired is evaluated lazily; the stored status is never rewritten by expiry.
func (s *Swap) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Swap) HasParty(userID primitive.ObjectID) bool {
	return s.Requester == userID || s.Owner == userID
}

// Counterpart returns the other party, or the zero id if userID is not a party.
func (s *Swap) Counterpart(userID primitive.ObjectID) primitive.ObjectID {
	switch userID {
	case s.Requester:
		return s.Owner
	case s.Owner:
		return s.Requester
	}
	return primitive.NilObjectID
}

func (s *Swap) BookIDs() []primitive.ObjectID {
	return []primitive.ObjectID{s.RequestedBook, s.OfferedBook}
}

func (s *Swap) PartyIDs() []primitive.ObjectID {
	return []primitive.ObjectID{s.Requester, s.Owner}
}

// SwapChanges are the fields set together with a status transition.
type SwapChanges struct {
	ResponseMessage *string
	MeetingLocation *string
	MeetingDate     *time.Time
	CompletedAt     *time.Time
}

// Swap participant roles for listing.
const (
	SwapRoleRequester = "requester"
	SwapRoleOwner     = "owner"
	SwapRoleAll       = "all"
)

type SwapFilter struct {
	Participant primitive.ObjectID
	Role        string
	Status      SwapStatus
	// ExpiredBefore, when set, selects pending swaps whose expiresAt is before it.
	ExpiredBefore *time.Time
	Page          Page
}

// SwapView is a swap as returned to clients, with expiry evaluated at read time.
type SwapView struct {
	Swap
	IsExpired bool `json:"isExpired"`
}

func (s *Swap) View(now time.Time) SwapView {
	return SwapView{Swap: *s, IsExpired: s.Status == SwapPending && s.IsExpired(now)}
}
