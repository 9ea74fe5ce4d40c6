package subscription

import (
	"context"
	"errors"
	"fmt"

	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/logging"
)

// ChannelStatus is the per-channel verdict exposed to the Mini App.
type ChannelStatus struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Username   string `json:"username"`
	URL        string `json:"url"`
	Subscribed bool   `json:"subscribed"`
}

// Result is the aggregate verdict across all required channels.
type Result struct {
	AllSubscribed bool            `json:"all_subscribed"`
	Channels      []ChannelStatus `json:"channels"`
}

type channelSource interface {
	Required(ctx context.Context) ([]domain.Channel, error)
}

type membershipChecker interface {
	IsSubscribed(ctx context.Context, channel domain.Channel, userID int64) (bool, error)
}

// Service checks all required channels for a user with caching.
type Service struct {
	channels channelSource
	checker  membershipChecker
	cache    Cache
}

// NewService constructs a subscription Service.
func NewService(channels channelSource, checker membershipChecker, cache Cache) *Service {
	return &Service{channels: channels, checker: checker, cache: cache}
}

// CheckAllRequired returns the membership verdict for every active required
// channel. Verdicts are served from cache unless force is set, which evicts
// the cached verdict before recomputing. With no required channels configured
// the user passes trivially.
func (s *Service) CheckAllRequired(ctx context.Context, userID int64, force bool) (Result, error) {
	if s == nil || s.channels == nil || s.checker == nil || s.cache == nil {
		return Result{}, errors.New("subscription service is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if userID == 0 {
		return Result{}, errors.New("user id is required")
	}

	channels, err := s.channels.Required(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load required channels: %w", err)
	}

	// No required channels means the user passes trivially; the cache is not
	// consulted so a verdict cached under an older channel list cannot leak.
	result := Result{AllSubscribed: true, Channels: make([]ChannelStatus, 0, len(channels))}
	if len(channels) == 0 {
		return result, nil
	}

	if force {
		if err := s.cache.Forget(ctx, userID); err != nil {
			logging.Warn("evict cached verdict failed", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	} else {
		cached, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			logging.Warn("read cached verdict failed", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		} else if ok {
			return cached, nil
		}
	}

	staleConfig := false

	for _, channel := range channels {
		subscribed, err := s.checker.IsSubscribed(ctx, channel, userID)
		if err != nil {
			if errors.Is(err, ErrChatNotFound) {
				staleConfig = true
			}
			subscribed = false
		}

		if !subscribed {
			result.AllSubscribed = false
		}

		result.Channels = append(result.Channels, ChannelStatus{
			ID:         channel.ChannelID,
			Title:      channel.Title,
			Username:   channel.Username,
			URL:        channel.URL,
			Subscribed: subscribed,
		})
	}

	if staleConfig {
		// A verdict built on unresolvable channels must not stick for the
		// full TTL.
		if err := s.cache.Forget(ctx, userID); err != nil {
			logging.Warn("evict verdict after stale channel config failed", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
		return result, nil
	}

	if err := s.cache.Set(ctx, userID, result); err != nil {
		logging.Warn("cache verdict failed", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	return result, nil
}

// ClearCache drops the cached verdict for a user.
func (s *Service) ClearCache(ctx context.Context, userID int64) error {
	if s == nil || s.cache == nil {
		return errors.New("subscription service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return s.cache.Forget(ctx, userID)
}

// RequiredChannels lists the active required channels without checking
// membership.
func (s *Service) RequiredChannels(ctx context.Context) ([]domain.Channel, error) {
	if s == nil || s.channels == nil {
		return nil, errors.New("subscription service is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	return s.channels.Required(ctx)
}
