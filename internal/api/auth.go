package api

import (
	"net/http"
	"strings"

	"tg_miniapp_bot/internal/initdata"
	"tg_miniapp_bot/internal/logging"
)

// identify authenticates a request by its initData payload and returns the
// caller's Telegram user id. Outside production an invalid signature is
// tolerated as long as a user id is still extractable; production always
// enforces the signature. On failure the error response has been written and
// ok is false.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	raw := strings.TrimSpace(r.FormValue("initData"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "initData обязателен")
		return "", 0, false
	}

	valid := initdata.Validate(raw, s.cfg.TelegramToken)
	if !valid && s.cfg.IsProduction() {
		s.logger.WithField("event", "api_auth").Warn("invalid initData rejected")
		s.writeError(w, http.StatusUnauthorized, "Невалидный initData")
		return "", 0, false
	}

	userID, ok := initdata.UserID(raw)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Не удалось определить пользователя")
		return "", 0, false
	}

	if !valid {
		s.logger.WithFields(logging.Fields{
			"event":   "api_auth",
			"user_id": userID,
		}).Warn("invalid initData tolerated outside production")
	}

	return raw, userID, true
}
