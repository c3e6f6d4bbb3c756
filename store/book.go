package store

import (
	"context"
	"log"
	"regexp"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	res, err := db.Books().InsertOne(ctx, book, options.InsertOne())
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	if err := db.Books().FindOne(ctx, bson.M{"_id": id}).Decode(&book); err != nil {
		return nil, notFound(err)
	}
	return &book, nil
}

// ListBooks returns active books matching f. Search is a case-insensitive
// substring match on title or author with regex metacharacters quoted.
func (db *DB) ListBooks(ctx context.Context, f models.BookFilter) ([]models.Book, int64, error) {
	q := bson.M{"isActive": true}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		q["$or"] = bson.A{bson.M{"title": re}, bson.M{"author": re}}
	}
	if f.Genre != "" {
		q["genre"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.Genre) + "$", Options: "i"}
	}
	if f.Condition != "" {
		q["condition"] = f.Condition
	}
	if f.Language != "" {
		q["language"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(f.Language) + "$", Options: "i"}
	}
	if !f.Owner.IsZero() {
		q["owner"] = f.Owner
	}
	if f.Available != nil {
		q["isAvailable"] = *f.Available
	}
	p := f.Page.Normalize()
	return findPage[models.Book](ctx, db.Books(), q, bookSort(f.Sort), p.Skip(), int64(p.Limit))
}

func bookSort(s string) bson.D {
	switch s {
	case "oldest":
		return bson.D{{Key: "createdAt", Value: 1}}
	case "title":
		return bson.D{{Key: "title", Value: 1}}
	case "popular":
		return bson.D{{Key: "viewCount", Value: -1}, {Key: "swapCount", Value: -1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}}
	}
}

// UpdateBook sets the owner-editable fields present in u.
func (db *DB) UpdateBook(ctx context.Context, id primitive.ObjectID, u models.BookUpdate) error {
	set := bson.M{"updatedAt": time.Now()}
	if u.Title != nil {
		set["title"] = *u.Title
	}
	if u.Author != nil {
		set["author"] = *u.Author
	}
	if u.Genre != nil {
		set["genre"] = *u.Genre
	}
	if u.ISBN != nil {
		set["isbn"] = *u.ISBN
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Condition != nil {
		set["condition"] = *u.Condition
	}
	if u.Language != nil {
		set["language"] = *u.Language
	}
	return db.updateBook(ctx, id, bson.M{"$set": set})
}

func (db *DB) SetBookCover(ctx context.Context, id primitive.ObjectID, s3Key, coverURL string) error {
	return db.updateBook(ctx, id, bson.M{"$set": bson.M{"coverS3Key": s3Key, "coverUrl": coverURL, "updatedAt": time.Now()}})
}

func (db *DB) SoftDeleteBook(ctx context.Context, id primitive.ObjectID) error {
	return db.updateBook(ctx, id, bson.M{"$set": bson.M{"isActive": false, "updatedAt": time.Now()}})
}

func (db *DB) IncrementBookViews(ctx context.Context, id primitive.ObjectID) error {
	return db.updateBook(ctx, id, bson.M{"$inc": bson.M{"viewCount": 1}})
}

// SetBooksAvailability is only called from swap transitions.
func (db *DB) SetBooksAvailability(ctx context.Context, ids []primitive.ObjectID, available bool) error {
	res, err := db.Books().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"isAvailable": available, "updatedAt": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount < int64(len(ids)) {
		return ErrNotFound
	}
	return nil
}

// ReserveBooks takes every book off the market or none of them. Each book is claimed with
// an update conditioned on isAvailable, so two swaps racing for one copy cannot both hold it.
func (db *DB) ReserveBooks(ctx context.Context, ids []primitive.ObjectID) error {
	now := time.Now()
	reserved := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		res, err := db.Books().UpdateOne(ctx,
			bson.M{"_id": id, "isActive": true, "isAvailable": true},
			bson.M{"$set": bson.M{"isAvailable": false, "updatedAt": now}})
		if err == nil && res.ModifiedCount == 0 {
			err = ErrBookUnavailable
		}
		if err != nil {
			if len(reserved) > 0 {
				if relErr := db.SetBooksAvailability(ctx, reserved, true); relErr != nil {
					log.Printf("release %d books after failed reservation: %v", len(reserved), relErr)
				}
			}
			return err
		}
		reserved = append(reserved, id)
	}
	return nil
}

func (db *DB) IncrementBookSwapCounts(ctx context.Context, ids []primitive.ObjectID) error {
	res, err := db.Books().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$inc": bson.M{"swapCount": 1}, "$set": bson.M{"updatedAt": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount < int64(len(ids)) {
		return ErrNotFound
	}
	return nil
}

func (db *DB) updateBook(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
