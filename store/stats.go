package store

import (
	"context"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (db *DB) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	counts := []struct {
		coll   *mongo.Collection
		filter bson.M
		dst    *int64
	}{
		{db.Users(), bson.M{}, &st.Users.Total},
		{db.Users(), bson.M{"isActive": true}, &st.Users.Active},
		{db.Users(), bson.M{"isBlocked": true}, &st.Users.Blocked},
		{db.Books(), bson.M{"isActive": true}, &st.Books.Active},
		{db.Books(), bson.M{"isActive": true, "isAvailable": true}, &st.Books.Available},
		{db.Reviews(), bson.M{"isActive": true}, &st.ActiveReviews},
	}
	for _, c := range counts {
		n, err := c.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}

	cur, err := db.Swaps().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "isActive", Value: true}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		Status models.SwapStatus `bson:"_id"`
		Count  int64             `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	st.Swaps = emptySwapCounts()
	for _, r := range rows {
		st.Swaps[r.Status] = r.Count
	}
	return &st, nil
}

func emptySwapCounts() map[models.SwapStatus]int64 {
	m := make(map[models.SwapStatus]int64, len(models.ValidSwapStatuses))
	for s := range models.ValidSwapStatuses {
		m[models.SwapStatus(s)] = 0
	}
	return m
}
