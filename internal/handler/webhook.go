package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daybook-ai/calendar-assistant/internal/middleware"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/internal/orchestrator"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
)

// maxEventConcurrency bounds per-delivery event fan-out. Events for the same
// conversation still serialize inside the orchestrator.
const maxEventConcurrency = 4

// WebhookHandler receives channel webhook deliveries.
type WebhookHandler struct {
	orch   *orchestrator.Orchestrator
	logger *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		orch:   orch,
		logger: log,
	}
}

// Receive handles POST /webhook. The channel expects a prompt 200 regardless
// of per-event outcomes, so dispatch failures are logged, not surfaced.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload model.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(maxEventConcurrency)
	for _, ev := range payload.Events {
		ev := ev
		if ev.Type == model.InboundMessage && ev.Message != nil && ev.Message.Type == "text" {
			if err := middleware.ValidateMessageText(ev.Message.Text); err != nil {
				h.logger.Warn("dropping invalid message text",
					zap.String("user_id", ev.Source.UserID), zap.Error(err))
				continue
			}
		}
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					h.logger.Error("panic in event dispatch",
						zap.String("event_type", string(ev.Type)),
						zap.Any("panic", rec))
				}
			}()
			if err := h.orch.Dispatch(r.Context(), ev); err != nil {
				h.logger.Error("event dispatch failed",
					zap.String("event_type", string(ev.Type)),
					zap.String("user_id", ev.Source.UserID),
					zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
