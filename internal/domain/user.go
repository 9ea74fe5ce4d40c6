package domain

import (
	"fmt"
	"strings"
	"time"
)

// TelegramUser represents a Mini App user identified by their Telegram id.
// Tickets are the spendable game currency; referral links are set once at
// creation and never changed afterwards.
type TelegramUser struct {
	TelegramID              int64      `bson:"telegram_id" json:"telegram_id"`
	LegacyID                int64      `bson:"legacy_id,omitempty" json:"-"`
	Username                string     `bson:"username,omitempty" json:"username"`
	FirstName               string     `bson:"first_name,omitempty" json:"first_name"`
	LastName                string     `bson:"last_name,omitempty" json:"last_name"`
	LanguageCode            string     `bson:"language_code,omitempty" json:"language_code"`
	PhotoURL                string     `bson:"photo_url,omitempty" json:"photo_url"`
	Tickets                 int64      `bson:"tickets" json:"tickets"`
	ReferralsCount          int64      `bson:"referrals_count" json:"referrals_count"`
	InvitedByTelegramUserID *int64     `bson:"invited_by_telegram_user_id,omitempty" json:"invited_by_telegram_user_id"`
	LastActiveAt            *time.Time `bson:"last_active_at,omitempty" json:"last_active_at"`
	LastTicketAddedAt       *time.Time `bson:"last_ticket_added_at,omitempty" json:"last_ticket_added_at"`
	CreatedAt               time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt               *time.Time `bson:"deleted_at,omitempty" json:"-"`
}

// TicketsPerPeriod is granted once per accrual period.
const (
	TicketAccrualPeriod = 24 * time.Hour
	RegistrationTickets = 1
)

// FullName joins first and last name, falling back to username or a numeric tag.
func (u TelegramUser) FullName() string {
	parts := make([]string, 0, 2)
	if u.FirstName != "" {
		parts = append(parts, u.FirstName)
	}
	if u.LastName != "" {
		parts = append(parts, u.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if u.Username != "" {
		return u.Username
	}

	return fmt.Sprintf("User #%d", u.TelegramID)
}

// DisplayName prefers the @username handle over the full name.
func (u TelegramUser) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}

	return u.FullName()
}

// HasEnoughTickets reports whether the balance covers the requested amount.
func (u TelegramUser) HasEnoughTickets(amount int64) bool {
	return u.Tickets >= amount
}

// TicketReferenceTime returns the accrual reference point: last_ticket_added_at
// when set, created_at otherwise. A nil result means the record predates
// accrual bookkeeping entirely.
func (u TelegramUser) TicketReferenceTime() *time.Time {
	if u.LastTicketAddedAt != nil {
		return u.LastTicketAddedAt
	}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt
		return &created
	}

	return nil
}

// SecondsUntilNextTicket reports how long until the next accrual relative to
// now; 0 when a ticket is already due or no reference time exists.
func (u TelegramUser) SecondsUntilNextTicket(now time.Time) int64 {
	ref := u.TicketReferenceTime()
	if ref == nil {
		return 0
	}

	next := ref.Add(TicketAccrualPeriod)
	if !next.After(now) {
		return 0
	}

	return int64(next.Sub(now) / time.Second)
}
