package sessions

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository provides session persistence. Lookups return only valid
// rows; invalidation is a flag flip, never an update that could be undone
// by a concurrent token refresh (UpdateTokens is guarded by isValid).
type Repository interface {
	Insert(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetLatestByUserID(ctx context.Context, userID string) (*Session, error)
	ListByUserID(ctx context.Context, userID string) ([]*Session, error)
	// UpdateTokens replaces the whole credential triple in one write.
	UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiresAt int64) error
	TouchLastUsed(ctx context.Context, id string) error
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID, exceptID string) (int64, error)
	DeleteInactiveSince(ctx context.Context, cutoff time.Time) (int64, error)
	CountByValidity(ctx context.Context) (valid, invalid int64, err error)
}

// MongoRepository implements Repository on a Mongo collection.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Insert(ctx context.Context, s *Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = now
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *MongoRepository) getOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Session, error) {
	var s Session
	if err := r.col.FindOne(ctx, filter, opts...).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	return r.getOne(ctx, bson.M{"_id": id, "isValid": true})
}

func (r *MongoRepository) GetLatestByUserID(ctx context.Context, userID string) (*Session, error) {
	opts := options.FindOne().SetSort(bson.M{"lastUsedAt": -1})
	return r.getOne(ctx, bson.M{"userId": userID, "isValid": true}, opts)
}

func (r *MongoRepository) ListByUserID(ctx context.Context, userID string) ([]*Session, error) {
	opts := options.Find().SetSort(bson.M{"lastUsedAt": -1})
	cur, err := r.col.Find(ctx, bson.M{"userId": userID, "isValid": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Session
	for cur.Next(ctx) {
		var s Session
		if err := cur.Decode(&s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, cur.Err()
}

func (r *MongoRepository) UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiresAt int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "isValid": true},
		bson.M{"$set": bson.M{
			"accessToken":  accessEnc,
			"refreshToken": refreshEnc,
			"expiresAt":    expiresAt,
			"lastUsedAt":   time.Now().UTC(),
		}},
	)
	return err
}

func (r *MongoRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastUsedAt": time.Now().UTC()}},
	)
	return err
}

func (r *MongoRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"isValid": false}},
	)
	return err
}

func (r *MongoRepository) InvalidateAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	filter := bson.M{"userId": userID, "isValid": true}
	if exceptID != "" {
		filter["_id"] = bson.M{"$ne": exceptID}
	}
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isValid": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) DeleteInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"lastUsedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) CountByValidity(ctx context.Context) (int64, int64, error) {
	valid, err := r.col.CountDocuments(ctx, bson.M{"isValid": true})
	if err != nil {
		return 0, 0, err
	}
	invalid, err := r.col.CountDocuments(ctx, bson.M{"isValid": false})
	if err != nil {
		return 0, 0, err
	}
	return valid, invalid, nil
}
