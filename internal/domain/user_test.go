package domain

import (
	"testing"
	"time"
)

func TestFullName(t *testing.T) {
	tests := []struct {
		name     string
		user     TelegramUser
		expected string
	}{
		{"first and last", TelegramUser{FirstName: "Иван", LastName: "Петров"}, "Иван Петров"},
		{"first only", TelegramUser{FirstName: "Иван"}, "Иван"},
		{"username fallback", TelegramUser{Username: "ivan"}, "ivan"},
		{"numeric fallback", TelegramUser{TelegramID: 42}, "User #42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.FullName(); got != tt.expected {
				t.Fatalf("FullName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	user := TelegramUser{Username: "ivan", FirstName: "Иван"}
	if got := user.DisplayName(); got != "@ivan" {
		t.Fatalf("DisplayName() = %q, want @ivan", got)
	}

	user = TelegramUser{FirstName: "Иван"}
	if got := user.DisplayName(); got != "Иван" {
		t.Fatalf("DisplayName() = %q, want Иван", got)
	}
}

func TestHasEnoughTickets(t *testing.T) {
	user := TelegramUser{Tickets: 2}
	if !user.HasEnoughTickets(2) {
		t.Fatal("expected 2 tickets to cover amount 2")
	}
	if user.HasEnoughTickets(3) {
		t.Fatal("expected 2 tickets not to cover amount 3")
	}
}

func TestTicketReferenceTime(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lastAdded := created.Add(48 * time.Hour)

	user := TelegramUser{CreatedAt: created, LastTicketAddedAt: &lastAdded}
	if ref := user.TicketReferenceTime(); ref == nil || !ref.Equal(lastAdded) {
		t.Fatalf("TicketReferenceTime() = %v, want last_ticket_added_at %v", ref, lastAdded)
	}

	user = TelegramUser{CreatedAt: created}
	if ref := user.TicketReferenceTime(); ref == nil || !ref.Equal(created) {
		t.Fatalf("TicketReferenceTime() = %v, want created_at %v", ref, created)
	}

	user = TelegramUser{}
	if ref := user.TicketReferenceTime(); ref != nil {
		t.Fatalf("TicketReferenceTime() = %v, want nil for empty record", ref)
	}
}

func TestSecondsUntilNextTicket(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	lastAdded := now.Add(-23 * time.Hour)
	user := TelegramUser{LastTicketAddedAt: &lastAdded}
	if got := user.SecondsUntilNextTicket(now); got != 3600 {
		t.Fatalf("SecondsUntilNextTicket() = %d, want 3600", got)
	}

	lastAdded = now.Add(-25 * time.Hour)
	user = TelegramUser{LastTicketAddedAt: &lastAdded}
	if got := user.SecondsUntilNextTicket(now); got != 0 {
		t.Fatalf("SecondsUntilNextTicket() = %d, want 0 when a ticket is due", got)
	}

	user = TelegramUser{}
	if got := user.SecondsUntilNextTicket(now); got != 0 {
		t.Fatalf("SecondsUntilNextTicket() = %d, want 0 without a reference time", got)
	}
}
