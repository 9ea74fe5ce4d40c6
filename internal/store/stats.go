// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	users    countCollection
	channels countCollection
	blocks   countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided
// collections.
func NewStatsProvider(users, channels, blocks countCollection) *StatsProvider {
	return &StatsProvider{
		users:    users,
		channels: channels,
		blocks:   blocks,
	}
}

// CountUsers returns the number of documents in the telegram_users collection.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountChannels returns the number of documents in the channels collection.
func (p *StatsProvider) CountChannels(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.channels == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.channels.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}

	return count, nil
}

// CountBlocks returns the number of documents in the blocks collection.
func (p *StatsProvider) CountBlocks(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.blocks == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.blocks.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}

	return count, nil
}
