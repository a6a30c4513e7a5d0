package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding recording metadata.
const CollectionName = "recordings"

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
	}
}

// EnsureIndexes creates the unique session id index and the listing index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("session_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "started_at", Value: -1}},
			Options: options.Index().SetName("started_at_desc"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create recordings indexes")
	}
	return nil
}

// Save upserts r by session id. A stored publish time is kept.
func (r *MongoRepository) Save(ctx context.Context, rec Recording) error {
	doc := bson.M{
		"session_id":           rec.SessionID,
		"filename":             rec.Filename,
		"status":               rec.Status,
		"started_at":           rec.StartedAt,
		"file_size":            rec.FileSize,
		"max_duration_reached": rec.MaxDurationReached,
	}
	if rec.EndedAt != nil {
		doc["ended_at"] = *rec.EndedAt
	}
	if rec.Duration != nil {
		doc["duration"] = *rec.Duration
	}
	if rec.Error != "" {
		doc["error"] = rec.Error
	}
	if rec.PublishedAt != nil {
		doc["published_at"] = *rec.PublishedAt
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"session_id": rec.SessionID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save recording %s", rec.SessionID)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, sessionID string) (*Recording, error) {
	var rec Recording
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load recording %s", sessionID)
	}
	return &rec, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]Recording, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recordings")
	}
	defer cursor.Close(ctx)

	recs := []Recording{}
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, errors.Wrap(err, "failed to decode recordings")
	}
	return recs, nil
}

func (r *MongoRepository) Delete(ctx context.Context, sessionID string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return errors.Wrapf(err, "failed to delete recording %s", sessionID)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) MarkPublished(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"published_at": at}},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark recording %s published", sessionID)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
