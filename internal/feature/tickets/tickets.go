// Package tickets implements user registration, referral tracking, and the
// time-based ticket accrual rules.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/logging"
)

// timeNow is overridable for tests.
var timeNow = time.Now

// userStore is the slice of the user repository the engine needs; narrowed so
// tests can supply an in-memory fake.
type userStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (domain.TelegramUser, error)
	FindByLegacyID(ctx context.Context, legacyID int64) (domain.TelegramUser, error)
	Insert(ctx context.Context, user domain.TelegramUser) (domain.TelegramUser, error)
	RefreshProfile(ctx context.Context, profile domain.Profile, activeAt time.Time) error
	IncrementReferrals(ctx context.Context, telegramID int64) error
	GrantTickets(ctx context.Context, telegramID int64, amount int64, grantedAt time.Time, expectedReference *time.Time) (bool, error)
	SetLastTicketAddedAt(ctx context.Context, telegramID int64, at time.Time) error
	SpendTickets(ctx context.Context, telegramID int64, amount int64) (domain.TelegramUser, error)
}

// Engine applies the ticket economy rules on top of the user repository.
type Engine struct {
	users userStore
}

// NewEngine constructs a ticket Engine.
func NewEngine(users userStore) *Engine {
	return &Engine{users: users}
}

// CreateOrUpdate registers a user on first contact or refreshes their profile
// and runs accrual on subsequent ones. It returns the up-to-date record and
// whether the user was created by this call.
//
// Referral attribution happens only at creation: an inviter reference arriving
// for an existing user is ignored, and self-referral is rejected outright.
func (e *Engine) CreateOrUpdate(ctx context.Context, profile domain.Profile, invitedBy *int64) (domain.TelegramUser, bool, error) {
	if e == nil || e.users == nil {
		return domain.TelegramUser{}, false, errors.New("ticket engine is not initialized")
	}
	if ctx == nil {
		return domain.TelegramUser{}, false, errors.New("context is required")
	}
	if profile.TelegramID == 0 {
		return domain.TelegramUser{}, false, errors.New("telegram_id is required")
	}

	existing, err := e.users.FindByTelegramID(ctx, profile.TelegramID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return domain.TelegramUser{}, false, fmt.Errorf("lookup user: %w", err)
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	if errors.Is(err, domain.ErrUserNotFound) {
		user, err := e.register(ctx, profile, invitedBy, now)
		if err != nil {
			return domain.TelegramUser{}, false, err
		}
		return user, true, nil
	}

	if err := e.users.RefreshProfile(ctx, profile, now); err != nil {
		return domain.TelegramUser{}, false, fmt.Errorf("refresh profile: %w", err)
	}

	if _, err := e.CheckAndAddTicketsIfNeeded(ctx, existing); err != nil {
		return domain.TelegramUser{}, false, err
	}

	user, err := e.users.FindByTelegramID(ctx, profile.TelegramID)
	if err != nil {
		return domain.TelegramUser{}, false, fmt.Errorf("reload user: %w", err)
	}

	return user, false, nil
}

func (e *Engine) register(ctx context.Context, profile domain.Profile, invitedBy *int64, now time.Time) (domain.TelegramUser, error) {
	user := domain.TelegramUser{
		TelegramID:        profile.TelegramID,
		Username:          profile.Username,
		FirstName:         profile.FirstName,
		LastName:          profile.LastName,
		LanguageCode:      profile.LanguageCode,
		PhotoURL:          profile.PhotoURL,
		Tickets:           domain.RegistrationTickets,
		LastActiveAt:      &now,
		LastTicketAddedAt: &now,
		CreatedAt:         now,
	}

	if inviter, ok := e.resolveInviter(ctx, profile.TelegramID, invitedBy); ok {
		inviterID := inviter.TelegramID
		user.InvitedByTelegramUserID = &inviterID

		if err := e.users.IncrementReferrals(ctx, inviterID); err != nil {
			return domain.TelegramUser{}, fmt.Errorf("increment referrals: %w", err)
		}
	}

	inserted, err := e.users.Insert(ctx, user)
	if err != nil {
		return domain.TelegramUser{}, fmt.Errorf("register user: %w", err)
	}

	logging.Info("registered new user", logging.Fields{
		"user_id":  inserted.TelegramID,
		"referred": inserted.InvitedByTelegramUserID != nil,
	})

	return inserted, nil
}

// resolveInviter resolves a referral reference to an inviter record. The
// reference is first treated as a Telegram id, then as a legacy numeric id
// carried over from the previous backend. A missing inviter is logged and
// dropped; registration proceeds without attribution.
func (e *Engine) resolveInviter(ctx context.Context, newUserID int64, invitedBy *int64) (domain.TelegramUser, bool) {
	if invitedBy == nil || *invitedBy == 0 {
		return domain.TelegramUser{}, false
	}
	if *invitedBy == newUserID {
		logging.Warn("self-referral rejected", logging.Fields{"user_id": newUserID})
		return domain.TelegramUser{}, false
	}

	inviter, err := e.users.FindByTelegramID(ctx, *invitedBy)
	if err == nil {
		return inviter, true
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		logging.Error("inviter lookup failed", logging.Fields{
			"user_id":    newUserID,
			"invited_by": *invitedBy,
			"error":      err.Error(),
		})
		return domain.TelegramUser{}, false
	}

	inviter, err = e.users.FindByLegacyID(ctx, *invitedBy)
	if err == nil {
		return inviter, true
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		logging.Error("inviter lookup failed", logging.Fields{
			"user_id":    newUserID,
			"invited_by": *invitedBy,
			"error":      err.Error(),
		})
		return domain.TelegramUser{}, false
	}

	logging.Warn("inviter not found, referral ignored", logging.Fields{
		"user_id":    newUserID,
		"invited_by": *invitedBy,
	})

	return domain.TelegramUser{}, false
}

// CheckAndAddTicketsIfNeeded grants one ticket per full accrual period elapsed
// since the user's reference time and returns how many were added. Records
// without any reference time get one initialized to now and accrue from there.
// A concurrent grant that moves the reference first wins; this call then adds
// nothing.
func (e *Engine) CheckAndAddTicketsIfNeeded(ctx context.Context, user domain.TelegramUser) (int64, error) {
	if e == nil || e.users == nil {
		return 0, errors.New("ticket engine is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	ref := user.TicketReferenceTime()
	if ref == nil {
		if err := e.users.SetLastTicketAddedAt(ctx, user.TelegramID, now); err != nil {
			return 0, fmt.Errorf("bootstrap accrual reference: %w", err)
		}
		return 0, nil
	}

	periods := int64(now.Sub(*ref) / domain.TicketAccrualPeriod)
	if periods <= 0 {
		return 0, nil
	}

	granted, err := e.users.GrantTickets(ctx, user.TelegramID, periods, now, user.LastTicketAddedAt)
	if err != nil {
		return 0, fmt.Errorf("grant tickets: %w", err)
	}
	if !granted {
		return 0, nil
	}

	logging.Info("tickets accrued", logging.Fields{
		"user_id": user.TelegramID,
		"amount":  periods,
	})

	return periods, nil
}

// SecondsUntilNextTicket reports how long the user waits for the next accrual.
func (e *Engine) SecondsUntilNextTicket(user domain.TelegramUser) int64 {
	return user.SecondsUntilNextTicket(timeNow().UTC())
}

// Spend deducts the amount from the balance when it is covered and returns the
// updated record; domain.ErrInsufficientTickets otherwise, with no mutation.
func (e *Engine) Spend(ctx context.Context, telegramID int64, amount int64) (domain.TelegramUser, error) {
	if e == nil || e.users == nil {
		return domain.TelegramUser{}, errors.New("ticket engine is not initialized")
	}
	if ctx == nil {
		return domain.TelegramUser{}, errors.New("context is required")
	}

	user, err := e.users.SpendTickets(ctx, telegramID, amount)
	if err != nil {
		return domain.TelegramUser{}, err
	}

	logging.Info("tickets spent", logging.Fields{
		"user_id": telegramID,
		"amount":  amount,
		"balance": user.Tickets,
	})

	return user, nil
}
