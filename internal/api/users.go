package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/initdata"
	"tg_miniapp_bot/internal/logging"
)

func userPayload(user domain.TelegramUser, secondsUntilNext int64) map[string]any {
	return map[string]any{
		"telegram_id":               user.TelegramID,
		"username":                  user.Username,
		"first_name":                user.FirstName,
		"last_name":                 user.LastName,
		"language_code":             user.LanguageCode,
		"photo_url":                 user.PhotoURL,
		"tickets":                   user.Tickets,
		"referrals_count":           user.ReferralsCount,
		"seconds_until_next_ticket": secondsUntilNext,
	}
}

// handleStart registers or refreshes the calling user. The referral reference
// is taken from the ref or start request parameter, falling back to the
// start_param embedded in initData by Mini App deep links.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tickets == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	raw, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	profile, ok := initdata.UserData(raw)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Не удалось извлечь данные пользователя")
		return
	}

	startParam := r.FormValue("ref")
	if startParam == "" {
		startParam = r.FormValue("start")
	}
	if startParam == "" {
		startParam = initdata.StartParam(raw)
	}

	var invitedBy *int64
	if trimmed := strings.TrimSpace(startParam); trimmed != "" {
		if ref, err := strconv.ParseInt(trimmed, 10, 64); err == nil && ref != 0 {
			invitedBy = &ref
		} else {
			s.logger.WithFields(logging.Fields{
				"event":       "api_start",
				"user_id":     userID,
				"start_param": trimmed,
			}).Warn("non-numeric referral parameter ignored")
		}
	}

	user, isNew, err := s.deps.Tickets.CreateOrUpdate(r.Context(), domain.Profile{
		TelegramID:   profile.ID,
		Username:     profile.Username,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		LanguageCode: profile.LanguageCode,
		PhotoURL:     profile.PhotoURL,
	}, invitedBy)
	if err != nil {
		s.logHandlerError("api_start", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при обработке запроса")
		return
	}

	message := "Пользователь обновлен"
	if isNew {
		message = "Пользователь создан"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userPayload(user, s.deps.Tickets.SecondsUntilNextTicket(user)),
		"is_new":  isNew,
		"message": message,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Users == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	_, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	user, err := s.deps.Users.FindByTelegramID(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.writeError(w, http.StatusNotFound, "Пользователь не найден")
		return
	}
	if err != nil {
		s.logHandlerError("api_me", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при обработке запроса")
		return
	}

	var secondsUntilNext int64
	if s.deps.Tickets != nil {
		secondsUntilNext = s.deps.Tickets.SecondsUntilNextTicket(user)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userPayload(user, secondsUntilNext),
	})
}

// handleTickets runs lazy accrual for the calling user and reports the
// resulting balance.
func (s *Server) handleTickets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Users == nil || s.deps.Tickets == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	_, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	user, err := s.deps.Users.FindByTelegramID(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.writeError(w, http.StatusNotFound, "Пользователь не найден")
		return
	}
	if err != nil {
		s.logHandlerError("api_tickets", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при получении информации о билетах")
		return
	}

	added, err := s.deps.Tickets.CheckAndAddTicketsIfNeeded(r.Context(), user)
	if err != nil {
		s.logHandlerError("api_tickets", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при получении информации о билетах")
		return
	}

	if added > 0 {
		user, err = s.deps.Users.FindByTelegramID(r.Context(), userID)
		if err != nil {
			s.logHandlerError("api_tickets", err, logging.Fields{"user_id": userID})
			s.writeError(w, http.StatusInternalServerError, "Ошибка при получении информации о билетах")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":                   true,
		"tickets":                   user.Tickets,
		"seconds_until_next_ticket": s.deps.Tickets.SecondsUntilNextTicket(user),
		"tickets_added":             added > 0,
		"tickets_added_count":       added,
	})
}

// handleSpendTicket deducts one ticket; insufficient balance is a business
// rejection with the current balance, not a server error.
func (s *Server) handleSpendTicket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Users == nil || s.deps.Tickets == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	_, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	user, err := s.deps.Users.FindByTelegramID(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.writeError(w, http.StatusNotFound, "Пользователь не найден")
		return
	}
	if err != nil {
		s.logHandlerError("api_spend_ticket", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при списании билета")
		return
	}

	updated, err := s.deps.Tickets.Spend(r.Context(), userID, 1)
	if errors.Is(err, domain.ErrInsufficientTickets) {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Недостаточно билетов",
			"tickets": user.Tickets,
		})
		return
	}
	if err != nil {
		s.logHandlerError("api_spend_ticket", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при списании билета")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":                   true,
		"tickets":                   updated.Tickets,
		"seconds_until_next_ticket": s.deps.Tickets.SecondsUntilNextTicket(updated),
		"message":                   "Билет успешно списан",
	})
}
