package database

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"camstream/internal/recording"
)

const recordingsCollection = "recordings"

// RecordingRepository stores finished recordings in MongoDB.
type RecordingRepository struct {
	collection *mongo.Collection
}

func NewRecordingRepository(db *mongo.Database) *RecordingRepository {
	return &RecordingRepository{collection: db.Collection(recordingsCollection)}
}

// EnsureIndexes creates the indexes List and history queries rely on.
func (r *RecordingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stopped_at", Value: -1}}},
		{Keys: bson.D{{Key: "camera_id", Value: 1}, {Key: "stopped_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	return errors.Wrap(err, "create recording indexes")
}

func (r *RecordingRepository) Save(ctx context.Context, entries ...recording.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return errors.Wrap(err, "insert recordings")
	}
	return nil
}

// List returns up to limit recordings, most recently stopped first.
func (r *RecordingRepository) List(ctx context.Context, limit int) ([]recording.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "stopped_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find recordings")
	}
	defer cursor.Close(ctx)

	var entries []recording.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, errors.Wrap(err, "decode recordings")
	}
	return entries, nil
}
