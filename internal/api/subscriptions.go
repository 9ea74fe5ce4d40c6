package api

import (
	"net/http"
	"strconv"

	"tg_miniapp_bot/internal/logging"
)

func (s *Server) handleSubscriptionCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	_, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(r.FormValue("force"))

	result, err := s.deps.Subscriptions.CheckAllRequired(r.Context(), userID, force)
	if err != nil {
		s.logHandlerError("api_subscription_check", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при проверке подписок")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"allSubscribed": result.AllSubscribed,
		"channels":      result.Channels,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	_, userID, ok := s.identify(w, r)
	if !ok {
		return
	}

	if err := s.deps.Subscriptions.ClearCache(r.Context(), userID); err != nil {
		s.logHandlerError("api_clear_cache", err, logging.Fields{"user_id": userID})
		s.writeError(w, http.StatusInternalServerError, "Ошибка при очистке кеша")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Кеш очищен",
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	channels, err := s.deps.Subscriptions.RequiredChannels(r.Context())
	if err != nil {
		s.logHandlerError("api_channels", err, nil)
		s.writeError(w, http.StatusInternalServerError, "Ошибка при получении каналов")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"channels": channels,
	})
}

func (s *Server) handleBotUsername(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bot == nil {
		s.writeError(w, http.StatusInternalServerError, "Сервис временно недоступен")
		return
	}

	username, err := s.deps.Bot.Username(r.Context())
	if err != nil {
		s.logHandlerError("api_bot_username", err, nil)
		s.writeError(w, http.StatusInternalServerError, "Ошибка при получении имени бота")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"username": username,
	})
}
