package domain

import "strings"

// Channel is a Telegram channel users are asked to join before playing.
// TelegramChatID overrides the username-based lookup for private channels.
type Channel struct {
	ChannelID      int64  `bson:"channel_id" json:"id"`
	Title          string `bson:"title" json:"title"`
	Description    string `bson:"description,omitempty" json:"description,omitempty"`
	Username       string `bson:"username" json:"username"`
	URL            string `bson:"url" json:"url"`
	Avatar         string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	TelegramChatID string `bson:"telegram_chat_id,omitempty" json:"-"`
	SortOrder      int    `bson:"sort_order" json:"-"`
	IsActive       bool   `bson:"is_active" json:"-"`
	IsRequired     bool   `bson:"is_required" json:"-"`
}

// ChatIDForCheck returns the identifier to pass to getChatMember: the numeric
// chat id when configured, otherwise the @-prefixed username.
func (c Channel) ChatIDForCheck() string {
	if c.TelegramChatID != "" {
		return c.TelegramChatID
	}

	return "@" + strings.TrimPrefix(c.Username, "@")
}

// ChatIDCandidates returns the ordered, de-duplicated chat id formats to try
// when checking membership: the configured numeric id, the bare username, and
// the @-prefixed username.
func (c Channel) ChatIDCandidates() []string {
	candidates := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)

	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}

	add(c.TelegramChatID)
	if username := strings.TrimPrefix(c.Username, "@"); username != "" {
		add(username)
		add("@" + username)
	}

	return candidates
}
