package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/internal/recurrence"
	"github.com/daybook-ai/calendar-assistant/internal/shiftfile"
)

// handleStepText routes user text to the pending step's handler.
func (o *Orchestrator) handleStepText(ctx context.Context, ev model.InboundEvent, userID, chatID string, sess *model.Session, text string) error {
	switch st := sess.State.(type) {
	case *model.AwaitingEventTitle:
		if text == "" {
			return o.reply(ctx, ev.ReplyToken, messaging.NewText(askTitleText))
		}
		return o.startCreate(ctx, ev.ReplyToken, userID, chatID, st.Event.WithTitle(text))

	case *model.AwaitingRecurrenceEndCondition:
		rule, err := recurrence.ApplyEndCondition(st.Event.Recurrence, text, time.Now().In(o.timezone))
		if err != nil {
			if errors.Is(err, recurrence.ErrUnparseable) {
				// Re-prompt; rewriting the same step refreshes the timestamp
				// so the conversation does not time out mid-question.
				if err := o.setState(ctx, userID, chatID, st); err != nil {
					return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
				}
				return o.reply(ctx, ev.ReplyToken, messaging.NewText("看不懂這個結束條件。"+askRecurrenceText))
			}
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.startCreate(ctx, ev.ReplyToken, userID, chatID, st.Event.WithRecurrence(rule))

	case *model.AwaitingModificationDetails:
		return o.handleModificationText(ctx, ev, userID, chatID, st, text)

	case *model.AwaitingDeleteConfirmation:
		if isConfirm(text) {
			return o.performDelete(ctx, ev.ReplyToken, userID, chatID, st)
		}
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("請點選「確認刪除」，或輸入「取消」。"))

	case *model.AwaitingCSVUpload:
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(askFile(st.PersonName)))

	case *model.AwaitingCalendarChoice:
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("請從上面的選項挑一個日曆，或輸入「取消」。"))

	case *model.AwaitingConflictConfirmation:
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("請點選「仍要建立」，或輸入「取消」。"))

	case *model.AwaitingBulkConfirmation:
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("請從上面的選項挑選匯入目的地，或輸入「取消」。"))

	default:
		o.logger.Warn("unhandled step state", zap.String("step", string(sess.State.Step())))
		o.clearState(ctx, userID, chatID)
		return o.expired(ctx, ev.ReplyToken)
	}
}

var confirmWords = map[string]bool{
	"確認": true, "確定": true, "是": true, "yes": true, "confirm": true, "ok": true,
}

func isConfirm(text string) bool {
	return confirmWords[text]
}

// handleModificationText parses a natural-language change description and
// applies it to the resolved target event.
func (o *Orchestrator) handleModificationText(ctx context.Context, ev model.InboundEvent, userID, chatID string, st *model.AwaitingModificationDetails, text string) error {
	if st.EventID == "" {
		// Still waiting on the disambiguation pick.
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("請先從清單選擇要修改的事件。"))
	}

	intent, err := o.classifier.Classify(ctx, text)
	if err != nil {
		o.logger.Error("change-set classification failed", zap.Error(err))
		return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
	}
	if intent.Patch.IsEmpty() {
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText("看不懂要修改什麼，請再描述一次，例如「改到下午四點」。"))
	}

	return o.applyUpdate(ctx, ev.ReplyToken, userID, chatID, st.CalendarID, st.EventID, *intent.Patch)
}

// performDelete executes a confirmed delete.
func (o *Orchestrator) performDelete(ctx context.Context, replyToken, userID, chatID string, st *model.AwaitingDeleteConfirmation) error {
	if err := o.backend.Delete(ctx, st.CalendarID, st.EventID); err != nil {
		o.logger.Error("delete failed",
			zap.String("calendar_id", st.CalendarID), zap.String("event_id", st.EventID), zap.Error(err))
		return o.failAndClear(ctx, replyToken, userID, chatID)
	}
	o.clearState(ctx, userID, chatID)
	o.publishAudit(ctx, "delete", st.CalendarID, st.EventID, userID)
	text := "已刪除。"
	if st.Title != "" {
		text = fmt.Sprintf("已刪除「%s」。", st.Title)
	}
	return o.reply(ctx, replyToken, messaging.NewText(text))
}

// handleFile consumes an uploaded shift file while awaiting_csv_upload is
// pending; any other file is ignored.
func (o *Orchestrator) handleFile(ctx context.Context, ev model.InboundEvent, userID, chatID string, sess *model.Session) error {
	if sess == nil {
		return nil
	}
	st, ok := sess.State.(*model.AwaitingCSVUpload)
	if !ok {
		return nil
	}

	content, err := o.channel.GetContent(ctx, ev.Message.ID)
	if err != nil {
		o.logger.Error("file content fetch failed",
			zap.String("message_id", ev.Message.ID), zap.Error(err))
		return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
	}
	defer content.Close()

	events, err := shiftfile.Parse(content, ev.Message.FileName, st.PersonName, time.Now().In(o.timezone), o.timezone)
	if err != nil || len(events) == 0 {
		if err != nil {
			o.logger.Warn("shift file parse failed",
				zap.String("file_name", ev.Message.FileName), zap.Error(err))
		}
		o.clearState(ctx, userID, chatID)
		return o.reply(ctx, ev.ReplyToken,
			messaging.NewText(fmt.Sprintf("在檔案裡找不到 %s 的班表，請確認格式後重新上傳。", st.PersonName)))
	}

	if err := o.setState(ctx, userID, chatID, &model.AwaitingBulkConfirmation{Events: events}); err != nil {
		return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
	}

	cals, err := o.backend.ListEligibleCalendars(ctx)
	if err != nil {
		o.logger.Error("listing calendars failed", zap.Error(err))
		return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
	}
	return o.reply(ctx, ev.ReplyToken, bulkDestinationCard(len(events), cals))
}
