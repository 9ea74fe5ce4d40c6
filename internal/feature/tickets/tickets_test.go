package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"tg_miniapp_bot/internal/domain"
)

// fakeUserStore is an in-memory userStore keyed by telegram id.
type fakeUserStore struct {
	users map[int64]*domain.TelegramUser

	findErr     error
	insertCalls int
	grantDenied bool
}

func newFakeUserStore(seed ...domain.TelegramUser) *fakeUserStore {
	store := &fakeUserStore{users: make(map[int64]*domain.TelegramUser)}
	for i := range seed {
		user := seed[i]
		store.users[user.TelegramID] = &user
	}
	return store
}

func (s *fakeUserStore) FindByTelegramID(_ context.Context, telegramID int64) (domain.TelegramUser, error) {
	if s.findErr != nil {
		return domain.TelegramUser{}, s.findErr
	}
	user, ok := s.users[telegramID]
	if !ok {
		return domain.TelegramUser{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *fakeUserStore) FindByLegacyID(_ context.Context, legacyID int64) (domain.TelegramUser, error) {
	for _, user := range s.users {
		if user.LegacyID == legacyID && legacyID != 0 {
			return *user, nil
		}
	}
	return domain.TelegramUser{}, domain.ErrUserNotFound
}

func (s *fakeUserStore) Insert(_ context.Context, user domain.TelegramUser) (domain.TelegramUser, error) {
	s.insertCalls++
	stored := user
	s.users[user.TelegramID] = &stored
	return stored, nil
}

func (s *fakeUserStore) RefreshProfile(_ context.Context, profile domain.Profile, activeAt time.Time) error {
	user, ok := s.users[profile.TelegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Username = profile.Username
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.LanguageCode = profile.LanguageCode
	user.PhotoURL = profile.PhotoURL
	user.LastActiveAt = &activeAt
	user.UpdatedAt = activeAt
	return nil
}

func (s *fakeUserStore) IncrementReferrals(_ context.Context, telegramID int64) error {
	user, ok := s.users[telegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.ReferralsCount++
	return nil
}

func (s *fakeUserStore) GrantTickets(_ context.Context, telegramID int64, amount int64, grantedAt time.Time, expectedReference *time.Time) (bool, error) {
	if s.grantDenied {
		return false, nil
	}
	user, ok := s.users[telegramID]
	if !ok {
		return false, nil
	}
	switch {
	case expectedReference == nil && user.LastTicketAddedAt != nil:
		return false, nil
	case expectedReference != nil && (user.LastTicketAddedAt == nil || !user.LastTicketAddedAt.Equal(*expectedReference)):
		return false, nil
	}
	user.Tickets += amount
	user.LastTicketAddedAt = &grantedAt
	return true, nil
}

func (s *fakeUserStore) SetLastTicketAddedAt(_ context.Context, telegramID int64, at time.Time) error {
	user, ok := s.users[telegramID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.LastTicketAddedAt = &at
	return nil
}

func (s *fakeUserStore) SpendTickets(_ context.Context, telegramID int64, amount int64) (domain.TelegramUser, error) {
	user, ok := s.users[telegramID]
	if !ok || user.Tickets < amount {
		return domain.TelegramUser{}, domain.ErrInsufficientTickets
	}
	user.Tickets -= amount
	return *user, nil
}

func freezeTime(t *testing.T, at time.Time) {
	t.Helper()
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = time.Now })
}

func TestCreateOrUpdateRegistersNewUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore()
	engine := NewEngine(store)

	user, isNew, err := engine.CreateOrUpdate(context.Background(), domain.Profile{
		TelegramID: 100,
		Username:   "alice",
		FirstName:  "Alice",
	}, nil)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !isNew {
		t.Error("expected isNew = true for first contact")
	}
	if user.Tickets != domain.RegistrationTickets {
		t.Errorf("Tickets = %d, want %d", user.Tickets, domain.RegistrationTickets)
	}
	if user.LastTicketAddedAt == nil || !user.LastTicketAddedAt.Equal(now) {
		t.Errorf("LastTicketAddedAt = %v, want %v", user.LastTicketAddedAt, now)
	}
	if store.insertCalls != 1 {
		t.Errorf("insert calls = %d, want 1", store.insertCalls)
	}
}

func TestCreateOrUpdateRefreshesExistingUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	recent := now.Add(-time.Hour)
	store := newFakeUserStore(domain.TelegramUser{
		TelegramID:        100,
		Username:          "old_handle",
		Tickets:           3,
		LastTicketAddedAt: &recent,
		CreatedAt:         now.Add(-48 * time.Hour),
	})
	engine := NewEngine(store)

	user, isNew, err := engine.CreateOrUpdate(context.Background(), domain.Profile{
		TelegramID: 100,
		Username:   "new_handle",
	}, nil)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if isNew {
		t.Error("expected isNew = false for existing user")
	}
	if user.Username != "new_handle" {
		t.Errorf("Username = %q, want refreshed handle", user.Username)
	}
	if user.Tickets != 3 {
		t.Errorf("Tickets = %d, want 3 (no period elapsed)", user.Tickets)
	}
	if store.insertCalls != 0 {
		t.Errorf("insert calls = %d, want 0", store.insertCalls)
	}
}

func TestCreateOrUpdateReferralAttribution(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore(domain.TelegramUser{TelegramID: 500, CreatedAt: now.Add(-time.Hour), LastTicketAddedAt: &now})
	engine := NewEngine(store)

	inviter := int64(500)
	user, isNew, err := engine.CreateOrUpdate(context.Background(), domain.Profile{TelegramID: 100}, &inviter)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !isNew {
		t.Fatal("expected new user")
	}
	if user.InvitedByTelegramUserID == nil || *user.InvitedByTelegramUserID != 500 {
		t.Errorf("InvitedByTelegramUserID = %v, want 500", user.InvitedByTelegramUserID)
	}
	if got := store.users[500].ReferralsCount; got != 1 {
		t.Errorf("inviter ReferralsCount = %d, want 1", got)
	}
}

func TestCreateOrUpdateReferralLegacyIDFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore(domain.TelegramUser{TelegramID: 700, LegacyID: 42, LastTicketAddedAt: &now})
	engine := NewEngine(store)

	ref := int64(42)
	user, _, err := engine.CreateOrUpdate(context.Background(), domain.Profile{TelegramID: 100}, &ref)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if user.InvitedByTelegramUserID == nil || *user.InvitedByTelegramUserID != 700 {
		t.Errorf("InvitedByTelegramUserID = %v, want 700 via legacy id", user.InvitedByTelegramUserID)
	}
	if got := store.users[700].ReferralsCount; got != 1 {
		t.Errorf("inviter ReferralsCount = %d, want 1", got)
	}
}

func TestCreateOrUpdateSelfReferralIgnored(t *testing.T) {
	freezeTime(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	store := newFakeUserStore()
	engine := NewEngine(store)

	self := int64(100)
	user, _, err := engine.CreateOrUpdate(context.Background(), domain.Profile{TelegramID: 100}, &self)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if user.InvitedByTelegramUserID != nil {
		t.Errorf("InvitedByTelegramUserID = %v, want nil for self-referral", user.InvitedByTelegramUserID)
	}
}

func TestCreateOrUpdateMissingInviterIgnored(t *testing.T) {
	freezeTime(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	store := newFakeUserStore()
	engine := NewEngine(store)

	ghost := int64(999)
	user, isNew, err := engine.CreateOrUpdate(context.Background(), domain.Profile{TelegramID: 100}, &ghost)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if !isNew {
		t.Fatal("registration must proceed despite missing inviter")
	}
	if user.InvitedByTelegramUserID != nil {
		t.Errorf("InvitedByTelegramUserID = %v, want nil", user.InvitedByTelegramUserID)
	}
}

func TestCreateOrUpdateReferralOnlyAtCreation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore(
		domain.TelegramUser{TelegramID: 100, LastTicketAddedAt: &now},
		domain.TelegramUser{TelegramID: 500, LastTicketAddedAt: &now},
	)
	engine := NewEngine(store)

	inviter := int64(500)
	user, isNew, err := engine.CreateOrUpdate(context.Background(), domain.Profile{TelegramID: 100}, &inviter)
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if isNew {
		t.Fatal("expected existing user")
	}
	if user.InvitedByTelegramUserID != nil {
		t.Error("existing user must not gain referral attribution")
	}
	if got := store.users[500].ReferralsCount; got != 0 {
		t.Errorf("inviter ReferralsCount = %d, want 0", got)
	}
}

func TestAccrualGrantsOnePerFullPeriod(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	ref := now.Add(-49 * time.Hour)
	store := newFakeUserStore(domain.TelegramUser{TelegramID: 100, Tickets: 1, LastTicketAddedAt: &ref})
	engine := NewEngine(store)

	added, err := engine.CheckAndAddTicketsIfNeeded(context.Background(), *store.users[100])
	if err != nil {
		t.Fatalf("CheckAndAddTicketsIfNeeded: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2 for 49h elapsed", added)
	}
	if got := store.users[100].Tickets; got != 3 {
		t.Errorf("Tickets = %d, want 3", got)
	}
	if !store.users[100].LastTicketAddedAt.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("LastTicketAddedAt = %v, want %v", store.users[100].LastTicketAddedAt, now)
	}
}

func TestAccrualNothingDueBeforeFullPeriod(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	ref := now.Add(-23 * time.Hour)
	store := newFakeUserStore(domain.TelegramUser{TelegramID: 100, Tickets: 1, LastTicketAddedAt: &ref})
	engine := NewEngine(store)

	added, err := engine.CheckAndAddTicketsIfNeeded(context.Background(), *store.users[100])
	if err != nil {
		t.Fatalf("CheckAndAddTicketsIfNeeded: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0", added)
	}
	if got := store.users[100].Tickets; got != 1 {
		t.Errorf("Tickets = %d, want 1", got)
	}
}

func TestAccrualFallsBackToCreatedAt(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore(domain.TelegramUser{
		TelegramID: 100,
		Tickets:    1,
		CreatedAt:  now.Add(-25 * time.Hour),
	})
	engine := NewEngine(store)

	added, err := engine.CheckAndAddTicketsIfNeeded(context.Background(), *store.users[100])
	if err != nil {
		t.Fatalf("CheckAndAddTicketsIfNeeded: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1 from created_at reference", added)
	}
}

func TestAccrualBootstrapsMissingReference(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	store := newFakeUserStore(domain.TelegramUser{TelegramID: 100, Tickets: 5})
	engine := NewEngine(store)

	added, err := engine.CheckAndAddTicketsIfNeeded(context.Background(), *store.users[100])
	if err != nil {
		t.Fatalf("CheckAndAddTicketsIfNeeded: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0 on bootstrap", added)
	}
	if store.users[100].LastTicketAddedAt == nil {
		t.Fatal("bootstrap must initialize LastTicketAddedAt")
	}
	if !store.users[100].LastTicketAddedAt.Equal(now.Truncate(time.Millisecond)) {
		t.Errorf("LastTicketAddedAt = %v, want %v", store.users[100].LastTicketAddedAt, now)
	}
	if got := store.users[100].Tickets; got != 5 {
		t.Errorf("Tickets = %d, want unchanged 5", got)
	}
}

func TestAccrualConcurrentGrantLoses(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	ref := now.Add(-30 * time.Hour)
	store := newFakeUserStore(domain.TelegramUser{TelegramID: 100, Tickets: 1, LastTicketAddedAt: &ref})
	store.grantDenied = true
	engine := NewEngine(store)

	added, err := engine.CheckAndAddTicketsIfNeeded(context.Background(), *store.users[100])
	if err != nil {
		t.Fatalf("CheckAndAddTicketsIfNeeded: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0 when another writer won", added)
	}
}

func TestSecondsUntilNextTicket(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	freezeTime(t, now)

	ref := now.Add(-20 * time.Hour)
	engine := NewEngine(newFakeUserStore())

	got := engine.SecondsUntilNextTicket(domain.TelegramUser{TelegramID: 100, LastTicketAddedAt: &ref})
	want := int64(4 * 60 * 60)
	if got != want {
		t.Errorf("SecondsUntilNextTicket = %d, want %d", got, want)
	}

	overdue := now.Add(-25 * time.Hour)
	if got := engine.SecondsUntilNextTicket(domain.TelegramUser{TelegramID: 100, LastTicketAddedAt: &overdue}); got != 0 {
		t.Errorf("SecondsUntilNextTicket overdue = %d, want 0", got)
	}
}

func TestSpend(t *testing.T) {
	freezeTime(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC))

	store := newFakeUserStore(domain.TelegramUser{TelegramID: 100, Tickets: 2})
	engine := NewEngine(store)

	user, err := engine.Spend(context.Background(), 100, 1)
	if err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if user.Tickets != 1 {
		t.Errorf("Tickets = %d, want 1", user.Tickets)
	}

	_, err = engine.Spend(context.Background(), 100, 5)
	if !errors.Is(err, domain.ErrInsufficientTickets) {
		t.Fatalf("Spend beyond balance: err = %v, want ErrInsufficientTickets", err)
	}
	if got := store.users[100].Tickets; got != 1 {
		t.Errorf("Tickets after failed spend = %d, want unchanged 1", got)
	}
}
