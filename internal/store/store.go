// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_miniapp_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionTelegramUsers = "telegram_users"
	CollectionChannels      = "channels"
	CollectionBlocks        = "blocks"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Ping verifies connectivity to the primary; used by the health endpoint.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Ping(ctx, readpref.Primary())
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the telegram_users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionTelegramUsers)
}

// Channels returns the channels collection handle.
func (m *Manager) Channels() *mongo.Collection {
	return m.Collection(CollectionChannels)
}

// Blocks returns the blocks collection handle.
func (m *Manager) Blocks() *mongo.Collection {
	return m.Collection(CollectionBlocks)
}

// EnsureBaseIndexes creates the foundational indexes for the users, channels,
// and blocks collections. Collections are created implicitly if they do not
// already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	userIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "telegram_id", Value: 1}},
			Options: options.Index().
				SetName("telegram_id_unique").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "invited_by_telegram_user_id", Value: 1}},
			Options: options.Index().SetName("invited_by"),
		},
	}

	if _, err := createIndexes(ctx, m.Users(), userIndexes); err != nil {
		return fmt.Errorf("create telegram_users indexes: %w", err)
	}

	channelIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "is_active", Value: 1},
				{Key: "is_required", Value: 1},
				{Key: "sort_order", Value: 1},
			},
			Options: options.Index().SetName("required_channels"),
		},
	}

	if _, err := createIndexes(ctx, m.Channels(), channelIndexes); err != nil {
		return fmt.Errorf("create channels indexes: %w", err)
	}

	blockIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "block_id", Value: 1}},
			Options: options.Index().
				SetName("block_id_unique").
				SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "command", Value: 1},
				{Key: "sort_order", Value: 1},
			},
			Options: options.Index().SetName("command_start"),
		},
	}

	if _, err := createIndexes(ctx, m.Blocks(), blockIndexes); err != nil {
		return fmt.Errorf("create blocks indexes: %w", err)
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
