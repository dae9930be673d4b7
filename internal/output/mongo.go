package output

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zscan/internal/core/probe"
)

// MongoSink inserts each record as a document, letting the schema
// vary freely per probe module.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoSink(uri, database, collection string) (*MongoSink, error) {
	if database == "" {
		database = "zscan"
	}
	if collection == "" {
		collection = "results"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo sink: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo sink: ping: %w", err)
	}

	return &MongoSink{client: client, coll: client.Database(database).Collection(collection)}, nil
}

func (s *MongoSink) Write(rec probe.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, rec)
	return err
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
