// Package subscription verifies channel membership for Mini App users and
// caches verdicts in Redis.
package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/logging"
)

// Membership statuses that count as subscribed.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
)

// checkTimeout bounds a single membership call against the Bot API.
const checkTimeout = 10 * time.Second

// ErrChatNotFound is reported when Telegram does not recognize any identifier
// configured for a channel.
var ErrChatNotFound = errors.New("chat not found")

// MemberAPI resolves a user's membership status in a chat. The chat id is
// either a numeric id string or an @username handle.
type MemberAPI interface {
	MemberStatus(ctx context.Context, chatID string, userID int64) (string, error)
}

// Checker decides whether a user is subscribed to a channel.
type Checker struct {
	api MemberAPI
}

// NewChecker constructs a Checker.
func NewChecker(api MemberAPI) *Checker {
	return &Checker{api: api}
}

// IsSubscribed tries each identifier the channel is reachable under and
// returns the verdict from the first call that succeeds. Any failure to reach
// a definitive answer counts as not subscribed. ErrChatNotFound is returned
// when every identifier is unknown to Telegram so callers can invalidate
// cached verdicts built on stale channel configuration.
func (c *Checker) IsSubscribed(ctx context.Context, channel domain.Channel, userID int64) (bool, error) {
	if c == nil || c.api == nil {
		return false, errors.New("membership checker is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	candidates := channel.ChatIDCandidates()
	if len(candidates) == 0 {
		logging.Warn("channel has no usable chat identifier", logging.Fields{
			"channel_id": channel.ChannelID,
		})
		return false, nil
	}

	var lastErr error
	notFound := 0

	for _, chatID := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		status, err := c.api.MemberStatus(callCtx, chatID, userID)
		cancel()

		if err != nil {
			lastErr = err
			fields := logging.Fields{
				"channel_id": channel.ChannelID,
				"chat_id":    chatID,
				"user_id":    userID,
				"error":      err.Error(),
			}

			switch {
			case isChatNotFound(err):
				notFound++
				logging.Warn("chat not found during membership check", fields)
			case isMemberListInaccessible(err):
				logging.Warn("member list inaccessible, add the bot as channel admin", fields)
			default:
				logging.Error("membership check failed", fields)
			}
			continue
		}

		switch status {
		case StatusCreator, StatusAdministrator, StatusMember:
			return true, nil
		default:
			return false, nil
		}
	}

	if notFound == len(candidates) {
		return false, ErrChatNotFound
	}

	return false, lastErr
}

func isChatNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "chat not found")
}

func isMemberListInaccessible(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "member list is inaccessible")
}
