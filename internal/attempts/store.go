package attempts

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists attempt records. Increment must be atomic per address;
// everything else is best-effort.
type Store interface {
	// Increment bumps the counter for ip, creating the record on first
	// failure. A record whose LastAttemptAt is before staleBefore is
	// discarded first, so an expired window restarts at one.
	Increment(ctx context.Context, ip, email string, staleBefore time.Time) (*Record, error)
	Get(ctx context.Context, ip string) (*Record, error)
	Delete(ctx context.Context, ip string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoStore implements Store on a Mongo collection keyed by ip address.
// Atomicity of Increment comes from a single $inc upsert; there is no
// read-modify-write on the client side.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) Increment(ctx context.Context, ip, email string, staleBefore time.Time) (*Record, error) {
	// Drop an expired record for this address before counting, so the new
	// failure starts a fresh window.
	if _, err := s.col.DeleteOne(ctx, bson.M{
		"_id":           ip,
		"lastAttemptAt": bson.M{"$lt": staleBefore},
	}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	update := bson.M{
		"$inc":         bson.M{"attemptCount": 1},
		"$set":         bson.M{"lastAttemptAt": now, "email": email},
		"$setOnInsert": bson.M{"firstAttemptAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var rec Record
	if err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": ip}, update, opts).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) Get(ctx context.Context, ip string) (*Record, error) {
	var rec Record
	if err := s.col.FindOne(ctx, bson.M{"_id": ip}).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) Delete(ctx context.Context, ip string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": ip})
	return err
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"lastAttemptAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
