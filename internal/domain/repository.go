package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sentinel errors returned by the repositories.
var (
	ErrUserNotFound        = errors.New("telegram user not found")
	ErrInsufficientTickets = errors.New("insufficient tickets")
)

// Profile carries the Telegram-supplied identity fields refreshed on every
// interaction.
type Profile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	PhotoURL     string
}

type userCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// UserRepository persists and retrieves Mini App users in MongoDB. Ticket
// mutations are expressed as conditional updates so that concurrent requests
// cannot double-spend or double-grant.
type UserRepository struct {
	collection userCollection
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(collection userCollection) *UserRepository {
	return &UserRepository{collection: collection}
}

func notDeleted(filter bson.M) bson.M {
	filter["deleted_at"] = bson.M{"$exists": false}
	return filter
}

// FindByTelegramID fetches a user by their Telegram id.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (TelegramUser, error) {
	if r == nil || r.collection == nil {
		return TelegramUser{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return TelegramUser{}, errors.New("context is required")
	}
	if telegramID == 0 {
		return TelegramUser{}, errors.New("telegram_id is required")
	}

	return r.findOne(ctx, notDeleted(bson.M{"telegram_id": telegramID}))
}

// FindByLegacyID fetches a user by the numeric primary key carried over from
// the previous backend; referral links occasionally arrive with it instead of
// a Telegram id.
func (r *UserRepository) FindByLegacyID(ctx context.Context, legacyID int64) (TelegramUser, error) {
	if r == nil || r.collection == nil {
		return TelegramUser{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return TelegramUser{}, errors.New("context is required")
	}
	if legacyID == 0 {
		return TelegramUser{}, ErrUserNotFound
	}

	return r.findOne(ctx, notDeleted(bson.M{"legacy_id": legacyID}))
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (TelegramUser, error) {
	result := r.collection.FindOne(ctx, filter)
	if result == nil {
		return TelegramUser{}, errors.New("find user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return TelegramUser{}, ErrUserNotFound
		}
		return TelegramUser{}, fmt.Errorf("find user: %w", err)
	}

	var user TelegramUser
	if err := result.Decode(&user); err != nil {
		return TelegramUser{}, fmt.Errorf("decode user: %w", err)
	}

	return user, nil
}

// Insert stores a new user with populated timestamps.
func (r *UserRepository) Insert(ctx context.Context, user TelegramUser) (TelegramUser, error) {
	if r == nil || r.collection == nil {
		return TelegramUser{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return TelegramUser{}, errors.New("context is required")
	}
	if user.TelegramID == 0 {
		return TelegramUser{}, errors.New("telegram_id is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, user); err != nil {
		return TelegramUser{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// RefreshProfile overwrites the Telegram profile fields and bumps
// last_active_at; called on every interaction.
func (r *UserRepository) RefreshProfile(ctx context.Context, profile Profile, activeAt time.Time) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if profile.TelegramID == 0 {
		return errors.New("telegram_id is required")
	}

	update := bson.M{
		"$set": bson.M{
			"username":       profile.Username,
			"first_name":     profile.FirstName,
			"last_name":      profile.LastName,
			"language_code":  profile.LanguageCode,
			"photo_url":      profile.PhotoURL,
			"last_active_at": activeAt,
			"updated_at":     activeAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, notDeleted(bson.M{"telegram_id": profile.TelegramID}), update)
	if err != nil {
		return fmt.Errorf("refresh profile: %w", err)
	}
	if result != nil && result.MatchedCount == 0 {
		return ErrUserNotFound
	}

	return nil
}

// IncrementReferrals adds one to the inviter's referral counter.
func (r *UserRepository) IncrementReferrals(ctx context.Context, telegramID int64) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if telegramID == 0 {
		return errors.New("telegram_id is required")
	}

	update := bson.M{
		"$inc": bson.M{"referrals_count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
	}

	result, err := r.collection.UpdateOne(ctx, notDeleted(bson.M{"telegram_id": telegramID}), update)
	if err != nil {
		return fmt.Errorf("increment referrals: %w", err)
	}
	if result != nil && result.MatchedCount == 0 {
		return ErrUserNotFound
	}

	return nil
}

// GrantTickets adds the given amount and moves last_ticket_added_at forward,
// conditional on the reference timestamp still matching what the caller
// computed from. Returns false without error when a concurrent grant won.
func (r *UserRepository) GrantTickets(ctx context.Context, telegramID int64, amount int64, grantedAt time.Time, expectedReference *time.Time) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if telegramID == 0 {
		return false, errors.New("telegram_id is required")
	}
	if amount <= 0 {
		return false, errors.New("amount must be positive")
	}

	filter := notDeleted(bson.M{"telegram_id": telegramID})
	if expectedReference != nil {
		filter["last_ticket_added_at"] = *expectedReference
	} else {
		filter["last_ticket_added_at"] = bson.M{"$exists": false}
	}

	update := bson.M{
		"$inc": bson.M{"tickets": amount},
		"$set": bson.M{
			"last_ticket_added_at": grantedAt,
			"updated_at":           grantedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("grant tickets: %w", err)
	}

	return result != nil && result.MatchedCount > 0, nil
}

// SetLastTicketAddedAt initializes the accrual reference time for records that
// predate accrual bookkeeping.
func (r *UserRepository) SetLastTicketAddedAt(ctx context.Context, telegramID int64, at time.Time) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if telegramID == 0 {
		return errors.New("telegram_id is required")
	}

	update := bson.M{
		"$set": bson.M{
			"last_ticket_added_at": at,
			"updated_at":           at,
		},
	}

	if _, err := r.collection.UpdateOne(ctx, notDeleted(bson.M{"telegram_id": telegramID}), update); err != nil {
		return fmt.Errorf("set last ticket added at: %w", err)
	}

	return nil
}

// SpendTickets atomically decrements the balance when it covers the amount and
// returns the updated record; ErrInsufficientTickets when it does not (or the
// user is missing, so callers that care load the user first).
func (r *UserRepository) SpendTickets(ctx context.Context, telegramID int64, amount int64) (TelegramUser, error) {
	if r == nil || r.collection == nil {
		return TelegramUser{}, errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return TelegramUser{}, errors.New("context is required")
	}
	if telegramID == 0 {
		return TelegramUser{}, errors.New("telegram_id is required")
	}
	if amount <= 0 {
		return TelegramUser{}, errors.New("amount must be positive")
	}

	filter := notDeleted(bson.M{
		"telegram_id": telegramID,
		"tickets":     bson.M{"$gte": amount},
	})
	update := bson.M{
		"$inc": bson.M{"tickets": -amount},
		"$set": bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)},
	}

	result := r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	if result == nil {
		return TelegramUser{}, errors.New("spend tickets returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return TelegramUser{}, ErrInsufficientTickets
		}
		return TelegramUser{}, fmt.Errorf("spend tickets: %w", err)
	}

	var user TelegramUser
	if err := result.Decode(&user); err != nil {
		return TelegramUser{}, fmt.Errorf("decode user: %w", err)
	}

	return user, nil
}

type findCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// ChannelRepository retrieves subscription channels from MongoDB.
type ChannelRepository struct {
	collection findCollection
}

// NewChannelRepository constructs a ChannelRepository.
func NewChannelRepository(collection findCollection) *ChannelRepository {
	return &ChannelRepository{collection: collection}
}

// Required returns the active required channels ordered by sort_order.
func (r *ChannelRepository) Required(ctx context.Context) ([]Channel, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("channel repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	filter := bson.M{"is_active": true, "is_required": true}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find required channels: %w", err)
	}
	defer cursor.Close(ctx)

	var channels []Channel
	if err := cursor.All(ctx, &channels); err != nil {
		return nil, fmt.Errorf("decode required channels: %w", err)
	}

	return channels, nil
}
