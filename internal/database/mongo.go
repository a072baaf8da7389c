package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoIDField = "_id"

// MongoStore keeps each collection as a MongoDB collection with the document
// key in _id.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	retry  dbRetryPolicy
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(database),
		retry:  defaultDBRetryPolicy,
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// toBSON turns any JSON-encodable document into a bson.M carrying the same
// field names as its JSON form.
func toBSON(doc interface{}) (bson.M, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}
	delete(m, mongoIDField)
	return m, nil
}

func fromBSON(m bson.M) (json.RawMessage, error) {
	delete(m, mongoIDField)
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return body, nil
}

func (s *MongoStore) Upsert(ctx context.Context, collection, key string, doc interface{}) error {
	m, err := toBSON(doc)
	if err != nil {
		return err
	}
	m[mongoIDField] = key

	return retryableDBOperationNoReturn(ctx, s.retry, func() error {
		_, err := s.db.Collection(collection).ReplaceOne(ctx,
			bson.M{mongoIDField: key}, m, options.Replace().SetUpsert(true))
		return err
	}, "upsert document")
}

func (s *MongoStore) InsertIfAbsent(ctx context.Context, collection, key string, doc interface{}) (json.RawMessage, bool, error) {
	m, err := toBSON(doc)
	if err != nil {
		return nil, false, err
	}

	inserted, err := retryableDBOperation(ctx, s.retry, func() (bool, error) {
		res, err := s.db.Collection(collection).UpdateOne(ctx,
			bson.M{mongoIDField: key},
			bson.M{"$setOnInsert": m},
			options.Update().SetUpsert(true),
		)
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return res.UpsertedCount == 1, nil
	}, "insert document")
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return nil, true, nil
	}

	existing, err := s.Get(ctx, collection, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("document %s/%s vanished after conflicting insert", collection, key)
	}
	return existing, false, nil
}

func (s *MongoStore) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{mongoIDField: key}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return fromBSON(m)
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, mongoFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []json.RawMessage
	for cursor.Next(ctx) {
		var m bson.M
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		body, err := fromBSON(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, body)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) Delete(ctx context.Context, collection, key string) error {
	return retryableDBOperationNoReturn(ctx, s.retry, func() error {
		_, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{mongoIDField: key})
		return err
	}, "delete document")
}

func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, mongoFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}

func mongoFilter(filter Filter) bson.M {
	m := bson.M{}
	for k, v := range filter {
		m[k] = v
	}
	return m
}
