package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type chatMemberAPI interface {
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
}

// MembershipAPI adapts getChatMember to the subscription checker's contract.
type MembershipAPI struct {
	api chatMemberAPI
}

// NewMembershipAPI constructs a MembershipAPI.
func NewMembershipAPI(api chatMemberAPI) *MembershipAPI {
	return &MembershipAPI{api: api}
}

// MemberStatus returns the user's membership status string in the given chat.
// Numeric chat ids are passed as integers, everything else as-is.
func (m *MembershipAPI) MemberStatus(ctx context.Context, chatID string, userID int64) (string, error) {
	if m == nil || m.api == nil {
		return "", errors.New("membership api is not initialized")
	}
	if ctx == nil {
		return "", errors.New("context is required")
	}

	params := &bot.GetChatMemberParams{UserID: userID}
	if numeric, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		params.ChatID = numeric
	} else {
		params.ChatID = chatID
	}

	member, err := m.api.GetChatMember(ctx, params)
	if err != nil {
		return "", fmt.Errorf("get chat member: %w", err)
	}
	if member == nil {
		return "", errors.New("get chat member returned no result")
	}

	return statusFromChatMember(member), nil
}

// statusFromChatMember maps the variant type onto the Bot API status string.
func statusFromChatMember(member *models.ChatMember) string {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		return "creator"
	case models.ChatMemberTypeAdministrator:
		return "administrator"
	case models.ChatMemberTypeMember:
		return "member"
	case models.ChatMemberTypeRestricted:
		return "restricted"
	case models.ChatMemberTypeLeft:
		return "left"
	case models.ChatMemberTypeBanned:
		return "kicked"
	default:
		return "unknown"
	}
}
