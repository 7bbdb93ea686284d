package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// handlePostback routes a tapped card action. Every action except cancel
// requires the stored step to match the action's expectation; a mismatch
// means the card outlived its conversation and gets the expired reply.
func (o *Orchestrator) handlePostback(ctx context.Context, ev model.InboundEvent, userID, chatID string, sess *model.Session) error {
	pb, err := model.ParsePostback(ev.Postback.Data)
	if err != nil {
		o.logger.Warn("malformed postback", zap.Error(err))
		return o.expired(ctx, ev.ReplyToken)
	}

	if pb.Action == model.ActionCancel {
		return o.cancel(ctx, ev.ReplyToken, userID, chatID)
	}

	if sess == nil {
		return o.expired(ctx, ev.ReplyToken)
	}

	switch pb.Action {
	case model.ActionChooseCalendar:
		st, ok := sess.State.(*model.AwaitingCalendarChoice)
		if !ok || pb.CalendarID == "" {
			return o.expired(ctx, ev.ReplyToken)
		}
		return o.createOn(ctx, ev.ReplyToken, userID, chatID, st.Event, pb.CalendarID)

	case model.ActionConfirmConflict:
		st, ok := sess.State.(*model.AwaitingConflictConfirmation)
		if !ok {
			return o.expired(ctx, ev.ReplyToken)
		}
		return o.createConfirmed(ctx, ev.ReplyToken, userID, chatID, st)

	case model.ActionConfirmDelete:
		st, ok := sess.State.(*model.AwaitingDeleteConfirmation)
		if !ok {
			return o.expired(ctx, ev.ReplyToken)
		}
		return o.performDelete(ctx, ev.ReplyToken, userID, chatID, st)

	case model.ActionModify:
		st, ok := sess.State.(*model.AwaitingModificationDetails)
		if !ok || pb.EventID == "" || pb.CalendarID == "" {
			return o.expired(ctx, ev.ReplyToken)
		}
		if st.EventID != "" && st.EventID != pb.EventID {
			// A pick from an older disambiguation card.
			return o.expired(ctx, ev.ReplyToken)
		}
		next := &model.AwaitingModificationDetails{EventID: pb.EventID, CalendarID: pb.CalendarID}
		if err := o.setState(ctx, userID, chatID, next); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(askChangesText))

	case model.ActionImport:
		st, ok := sess.State.(*model.AwaitingBulkConfirmation)
		if !ok || pb.CalendarID == "" {
			return o.expired(ctx, ev.ReplyToken)
		}
		if err := o.reply(ctx, ev.ReplyToken,
			messaging.NewText(fmt.Sprintf("開始匯入 %d 筆班表…", len(st.Events)))); err != nil {
			return err
		}
		// The engine clears the bulk state and pushes its own summary, even
		// when it fails internally.
		o.engine.Run(ctx, userID, chatID, st.Events, pb.CalendarID)
		return nil

	default:
		o.logger.Warn("unknown postback action", zap.String("action", string(pb.Action)))
		return o.expired(ctx, ev.ReplyToken)
	}
}

// createConfirmed re-uses the original candidate after a conflict soft stop
// without re-checking conflicts.
func (o *Orchestrator) createConfirmed(ctx context.Context, replyToken, userID, chatID string, st *model.AwaitingConflictConfirmation) error {
	created, err := o.guard.CreateConfirmed(ctx, st.CalendarID, st.Event)
	if err != nil {
		var dup *calendar.DuplicateError
		if errors.As(err, &dup) {
			o.clearState(ctx, userID, chatID)
			return o.reply(ctx, replyToken, duplicateMessage(dup.Existing))
		}
		o.logger.Error("confirmed create failed",
			zap.String("calendar_id", st.CalendarID), zap.Error(err))
		return o.failAndClear(ctx, replyToken, userID, chatID)
	}
	o.clearState(ctx, userID, chatID)
	o.publishAudit(ctx, "create", st.CalendarID, created.ID, userID)
	return o.reply(ctx, replyToken, createdMessage(created))
}
