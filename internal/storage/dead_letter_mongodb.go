package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDeadLetterStore keeps dead letters in a MongoDB collection, for
// deployments that already run Mongo for operational data.
type MongoDeadLetterStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoDeadLetterStore connects to MongoDB and prepares the dead
// letter collection.
func NewMongoDeadLetterStore(url, database, collection string) (*MongoDeadLetterStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// NOTE: Ignoring disconnect error during cleanup after ping failure
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "firstfailedat", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		// NOTE: Ignoring disconnect error during cleanup after index failure
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create dead letter index: %w", err)
	}

	return &MongoDeadLetterStore{client: client, coll: coll}, nil
}

func (s *MongoDeadLetterStore) SaveDeadLetter(ctx context.Context, letter DeadLetter) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if letter.ID == "" {
		letter.ID = NewDeadLetterID()
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"id": letter.ID}, letter, opts)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func (s *MongoDeadLetterStore) GetDeadLetter(ctx context.Context, id string) (DeadLetter, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var letter DeadLetter
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&letter)
	if err == mongo.ErrNoDocuments {
		return DeadLetter{}, ErrNotFound
	}
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return letter, nil
}

func (s *MongoDeadLetterStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "firstfailedat", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var letters []DeadLetter
	if err := cursor.All(ctx, &letters); err != nil {
		return nil, fmt.Errorf("decode dead letters: %w", err)
	}
	return letters, nil
}

func (s *MongoDeadLetterStore) DeleteDeadLetter(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDeadLetterStore) PurgeDeadLetters(ctx context.Context) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return result.DeletedCount, nil
}

func (s *MongoDeadLetterStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
