package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertReview relies on the unique (reviewer, reviewee, swap) index; a clash is ErrDuplicate.
func (db *DB) InsertReview(ctx context.Context, review *models.Review) (primitive.ObjectID, error) {
	res, err := db.Reviews().InsertOne(ctx, review, options.InsertOne())
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, ErrDuplicate
	}
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) ReviewByID(ctx context.Context, id primitive.ObjectID) (*models.Review, error) {
	var r models.Review
	if err := db.Reviews().FindOne(ctx, bson.M{"_id": id, "isActive": true}).Decode(&r); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (db *DB) ReviewExists(ctx context.Context, reviewer, reviewee, swap primitive.ObjectID) (bool, error) {
	n, err := db.Reviews().CountDocuments(ctx, bson.M{
		"reviewer": reviewer,
		"reviewee": reviewee,
		"swap":     swap,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func (db *DB) ListReviews(ctx context.Context, f models.ReviewFilter) ([]models.Review, int64, error) {
	q := bson.M{"isActive": true}
	if !f.Reviewee.IsZero() {
		q["reviewee"] = f.Reviewee
	}
	if !f.Reviewer.IsZero() {
		q["reviewer"] = f.Reviewer
	}
	if !f.Swap.IsZero() {
		q["swap"] = f.Swap
	}
	p := f.Page.Normalize()
	return findPage[models.Review](ctx, db.Reviews(), q, bson.D{{Key: "createdAt", Value: -1}}, p.Skip(), int64(p.Limit))
}

func (db *DB) UpdateReview(ctx context.Context, id primitive.ObjectID, rating *int, comment *string, at time.Time) error {
	set := bson.M{"updatedAt": at}
	if rating != nil {
		set["rating"] = *rating
	}
	if comment != nil {
		set["comment"] = *comment
	}
	res, err := db.Reviews().UpdateOne(ctx, bson.M{"_id": id, "isActive": true}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) SoftDeleteReview(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := db.Reviews().UpdateOne(ctx,
		bson.M{"_id": id, "isActive": true},
		bson.M{"$set": bson.M{"isActive": false, "updatedAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RatingSummary aggregates every active review received by reviewee.
func (db *DB) RatingSummary(ctx context.Context, reviewee primitive.ObjectID) (models.RatingSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "reviewee", Value: reviewee}, {Key: "isActive", Value: true}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$rating"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := db.Reviews().Aggregate(ctx, pipeline)
	if err != nil {
		return models.RatingSummary{}, err
	}
	defer cur.Close(ctx)
	var rows []models.RatingSummary
	if err := cur.All(ctx, &rows); err != nil {
		return models.RatingSummary{}, err
	}
	if len(rows) == 0 {
		return models.RatingSummary{}, nil
	}
	return rows[0], nil
}
