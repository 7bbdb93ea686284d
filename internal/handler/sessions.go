package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/middleware"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
)

// SessionHandler exposes pending conversation state to operators.
type SessionHandler struct {
	store  session.Store
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store session.Store, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: log,
	}
}

// Get handles GET /api/v1/sessions/{userID}/{chatID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	chatID := chi.URLParam(r, "chatID")
	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.store.Get(r.Context(), userID, chatID)
	if err != nil {
		h.logger.Error("session read failed",
			zap.String("user_id", userID), zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "no pending session")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Delete handles DELETE /api/v1/sessions/{userID}/{chatID}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	chatID := chi.URLParam(r, "chatID")
	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Clear(r.Context(), userID, chatID); err != nil {
		h.logger.Error("session clear failed",
			zap.String("user_id", userID), zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
