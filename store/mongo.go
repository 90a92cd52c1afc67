package store

import (
	"context"
	"errors"
	"fmt"

	"echoapp/logger"
	"echoapp/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const exchangesCollection = "exchanges"

var ErrNotInitialized = errors.New("mongo store not initialized")

// Store persists echo exchanges in MongoDB. The zero value is usable but every
// operation returns ErrNotInitialized until Open succeeds.
type Store struct {
	client    *mongo.Client
	exchanges *mongo.Collection
}

// Open connects to MongoDB, pings, ensures indexes and prepares collections.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := &Store{client: client, exchanges: client.Database(database).Collection(exchangesCollection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("mongo initialized", logger.FieldKV("database", database))
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping health check.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrNotInitialized
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// InsertExchange performs idempotent insert (upsert ignoring duplicates).
func (s *Store) InsertExchange(ctx context.Context, ex models.Exchange) error {
	if s == nil || s.exchanges == nil {
		return ErrNotInitialized
	}
	if ex.ExchangeID == "" {
		return errors.New("exchange id required")
	}
	filter := bson.M{"exchange_id": ex.ExchangeID}
	update := bson.M{"$setOnInsert": ex}
	_, err := s.exchanges.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// RecentExchanges returns up to limit exchanges, newest first. A non-positive limit
// yields an empty result.
func (s *Store) RecentExchanges(ctx context.Context, limit int) ([]models.Exchange, error) {
	if limit <= 0 {
		return []models.Exchange{}, nil
	}
	if s == nil || s.exchanges == nil {
		return nil, ErrNotInitialized
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.exchanges.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]models.Exchange, 0, limit)
	for cur.Next(ctx) {
		var ex models.Exchange
		if err := cur.Decode(&ex); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, cur.Err()
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.exchanges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "exchange_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_exchange_id")},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}, Options: options.Index().SetName("idx_timestamp")},
	})
	return err
}
