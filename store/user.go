package store

import (
	"context"
	"regexp"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AdminsCount returns the number of users with role admin.
func (db *DB) AdminsCount(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{"role": models.RoleAdmin})
}

func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := db.Users().FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error) {
	res, err := db.Users().InsertOne(ctx, user, options.InsertOne())
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, ErrDuplicate
	}
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := db.Users().FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (db *DB) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error) {
	q := bson.M{}
	if f.Search != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		q["$or"] = bson.A{bson.M{"name": re}, bson.M{"email": re}}
	}
	if f.Blocked != nil {
		q["isBlocked"] = *f.Blocked
	}
	p := f.Page.Normalize()
	return findPage[models.User](ctx, db.Users(), q, bson.D{{Key: "createdAt", Value: -1}}, p.Skip(), int64(p.Limit))
}

func (db *DB) AllUserIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	cur, err := db.Users().Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (db *DB) UpdateProfile(ctx context.Context, id primitive.ObjectID, u models.ProfileUpdate) error {
	set := bson.M{"updatedAt": time.Now()}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Bio != nil {
		set["bio"] = *u.Bio
	}
	if u.Location != nil {
		set["location"] = *u.Location
	}
	if u.Phone != nil {
		set["phone"] = *u.Phone
	}
	if u.AvatarURL != nil {
		set["avatarUrl"] = *u.AvatarURL
	}
	return db.setUser(ctx, id, set)
}

func (db *DB) SetUserRole(ctx context.Context, id primitive.ObjectID, role string) error {
	return db.setUser(ctx, id, bson.M{"role": role, "updatedAt": time.Now()})
}

func (db *DB) SetUserBlocked(ctx context.Context, id primitive.ObjectID, blocked bool) error {
	return db.setUser(ctx, id, bson.M{"isBlocked": blocked, "updatedAt": time.Now()})
}

func (db *DB) SetUserActive(ctx context.Context, id primitive.ObjectID, active bool) error {
	return db.setUser(ctx, id, bson.M{"isActive": active, "updatedAt": time.Now()})
}

func (db *DB) TouchLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	return db.setUser(ctx, id, bson.M{"lastLogin": at})
}

// SetUserRating writes the derived rating fields; only the review engine calls it.
func (db *DB) SetUserRating(ctx context.Context, id primitive.ObjectID, rating float64, total int) error {
	return db.setUser(ctx, id, bson.M{"rating": rating, "totalRatings": total, "updatedAt": time.Now()})
}

func (db *DB) IncrementUserSwaps(ctx context.Context, ids []primitive.ObjectID) error {
	_, err := db.Users().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$inc": bson.M{"totalSwaps": 1}, "$set": bson.M{"updatedAt": time.Now()}})
	return err
}

func (db *DB) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	res, err := db.Users().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) setUser(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	res, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
