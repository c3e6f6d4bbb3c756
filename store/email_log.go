package store

import (
	"context"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertEmailLog(ctx context.Context, entry *models.EmailLog) error {
	res, err := db.EmailLogs().InsertOne(ctx, entry)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		entry.ID = id
	}
	return nil
}

// SwapNotifications returns every notification attempt for a swap, oldest first.
func (db *DB) SwapNotifications(ctx context.Context, swapID primitive.ObjectID) ([]models.EmailLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: 1}})
	cur, err := db.EmailLogs().Find(ctx, bson.M{"swapId": swapID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	logs := []models.EmailLog{}
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
