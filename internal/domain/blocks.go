package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrBlockNotFound is returned when no active block matches a lookup.
var ErrBlockNotFound = errors.New("block not found")

// BlockRepository resolves conversation blocks for the flow engine. The
// production implementation is database-backed; tests use the static one.
type BlockRepository interface {
	ByID(ctx context.Context, blockID string) (Block, error)
	StartBlock(ctx context.Context, command string) (Block, error)
}

type findOneCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// MongoBlockRepository resolves blocks from the blocks collection.
type MongoBlockRepository struct {
	collection findOneCollection
}

// NewMongoBlockRepository constructs a MongoBlockRepository.
func NewMongoBlockRepository(collection findOneCollection) *MongoBlockRepository {
	return &MongoBlockRepository{collection: collection}
}

// ByID fetches an active block by its stable id.
func (r *MongoBlockRepository) ByID(ctx context.Context, blockID string) (Block, error) {
	if r == nil || r.collection == nil {
		return Block{}, errors.New("block repository is not initialized")
	}
	if ctx == nil {
		return Block{}, errors.New("context is required")
	}
	if blockID == "" {
		return Block{}, ErrBlockNotFound
	}

	return r.findOne(ctx, bson.M{"block_id": blockID, "is_active": true}, nil)
}

// StartBlock fetches the entry block registered for a bot command (without
// the leading slash). When several match, the lowest sort_order wins.
func (r *MongoBlockRepository) StartBlock(ctx context.Context, command string) (Block, error) {
	if r == nil || r.collection == nil {
		return Block{}, errors.New("block repository is not initialized")
	}
	if ctx == nil {
		return Block{}, errors.New("context is required")
	}

	command = strings.TrimPrefix(strings.TrimSpace(command), "/")
	if command == "" {
		return Block{}, ErrBlockNotFound
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "sort_order", Value: 1}})
	return r.findOne(ctx, bson.M{"command": command, "is_active": true}, opts)
}

func (r *MongoBlockRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (Block, error) {
	var result *mongo.SingleResult
	if opts != nil {
		result = r.collection.FindOne(ctx, filter, opts)
	} else {
		result = r.collection.FindOne(ctx, filter)
	}
	if result == nil {
		return Block{}, errors.New("find block returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Block{}, ErrBlockNotFound
		}
		return Block{}, fmt.Errorf("find block: %w", err)
	}

	var block Block
	if err := result.Decode(&block); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}

	return block, nil
}

// StaticBlockRepository serves an in-memory script; it backs statically
// authored conversations and tests.
type StaticBlockRepository struct {
	byID      map[string]Block
	byCommand map[string]Block
}

// NewStaticBlockRepository validates the script and builds the lookup tables.
func NewStaticBlockRepository(blocks []Block) (*StaticBlockRepository, error) {
	if err := ValidateBlocks(blocks); err != nil {
		return nil, fmt.Errorf("invalid block script: %w", err)
	}

	repo := &StaticBlockRepository{
		byID:      make(map[string]Block, len(blocks)),
		byCommand: make(map[string]Block),
	}

	ordered := make([]Block, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	for _, block := range ordered {
		repo.byID[block.BlockID] = block
		if block.Command != "" {
			command := strings.TrimPrefix(block.Command, "/")
			if _, taken := repo.byCommand[command]; !taken {
				repo.byCommand[command] = block
			}
		}
	}

	return repo, nil
}

// ByID resolves a block by id.
func (r *StaticBlockRepository) ByID(_ context.Context, blockID string) (Block, error) {
	if r == nil {
		return Block{}, errors.New("block repository is not initialized")
	}

	block, ok := r.byID[blockID]
	if !ok {
		return Block{}, ErrBlockNotFound
	}

	return block, nil
}

// StartBlock resolves the entry block for a command.
func (r *StaticBlockRepository) StartBlock(_ context.Context, command string) (Block, error) {
	if r == nil {
		return Block{}, errors.New("block repository is not initialized")
	}

	block, ok := r.byCommand[strings.TrimPrefix(strings.TrimSpace(command), "/")]
	if !ok {
		return Block{}, ErrBlockNotFound
	}

	return block, nil
}
