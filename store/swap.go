package store

import (
	"context"
	"errors"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertSwap(ctx context.Context, swap *models.Swap) (primitive.ObjectID, error) {
	res, err := db.Swaps().InsertOne(ctx, swap, options.InsertOne())
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) SwapByID(ctx context.Context, id primitive.ObjectID) (*models.Swap, error) {
	var s models.Swap
	if err := db.Swaps().FindOne(ctx, bson.M{"_id": id, "isActive": true}).Decode(&s); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (db *DB) ListSwaps(ctx context.Context, f models.SwapFilter) ([]models.Swap, int64, error) {
	q := bson.M{"isActive": true}
	if !f.Participant.IsZero() {
		switch f.Role {
		case models.SwapRoleRequester:
			q["requester"] = f.Participant
		case models.SwapRoleOwner:
			q["owner"] = f.Participant
		default:
			q["$or"] = bson.A{bson.M{"requester": f.Participant}, bson.M{"owner": f.Participant}}
		}
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.ExpiredBefore != nil {
		q["status"] = models.SwapPending
		q["expiresAt"] = bson.M{"$lte": *f.ExpiredBefore}
	}
	p := f.Page.Normalize()
	return findPage[models.Swap](ctx, db.Swaps(), q, bson.D{{Key: "createdAt", Value: -1}}, p.Skip(), int64(p.Limit))
}

func (db *DB) LiveSwapExists(ctx context.Context, requester, requestedBook, offeredBook primitive.ObjectID) (bool, error) {
	n, err := db.Swaps().CountDocuments(ctx, bson.M{
		"requester":     requester,
		"requestedBook": requestedBook,
		"offeredBook":   offeredBook,
		"status":        bson.M{"$in": models.LiveSwapStatuses},
		"isActive":      true,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (db *DB) BookInLiveSwap(ctx context.Context, bookID primitive.ObjectID) (bool, error) {
	n, err := db.Swaps().CountDocuments(ctx, bson.M{
		"$or":      bson.A{bson.M{"requestedBook": bookID}, bson.M{"offeredBook": bookID}},
		"status":   bson.M{"$in": models.LiveSwapStatuses},
		"isActive": true,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

// TransitionSwap moves a swap from -> to only if its stored status still equals from.
// The filter on status makes the check and the write a single atomic document update.
func (db *DB) TransitionSwap(ctx context.Context, id primitive.ObjectID, from, to models.SwapStatus, ch models.SwapChanges, at time.Time) (*models.Swap, error) {
	set := bson.M{"status": to, "updatedAt": at}
	if ch.ResponseMessage != nil {
		set["responseMessage"] = *ch.ResponseMessage
	}
	if ch.MeetingLocation != nil {
		set["meetingLocation"] = *ch.MeetingLocation
	}
	if ch.MeetingDate != nil {
		set["meetingDate"] = *ch.MeetingDate
	}
	if ch.CompletedAt != nil {
		set["completedAt"] = *ch.CompletedAt
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s models.Swap
	err := db.Swaps().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from, "isActive": true},
		bson.M{"$set": set}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, lookupErr := db.SwapByID(ctx, id); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
