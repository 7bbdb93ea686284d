package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/internal/recurrence"
)

// handleIntent classifies free text and dispatches it. Only reachable when
// no step is pending.
func (o *Orchestrator) handleIntent(ctx context.Context, ev model.InboundEvent, userID, chatID, text string) error {
	if text == "" {
		return nil
	}

	intent, err := o.classifier.Classify(ctx, text)
	if err != nil {
		o.logger.Error("intent classification failed", zap.Error(err))
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(genericFailureText))
	}

	switch intent.Type {
	case model.IntentCreateEvent:
		return o.dispatchCreate(ctx, ev, userID, chatID, intent)
	case model.IntentQueryEvent:
		return o.dispatchQuery(ctx, ev, intent)
	case model.IntentUpdateEvent:
		return o.dispatchUpdate(ctx, ev, userID, chatID, intent)
	case model.IntentDeleteEvent:
		return o.dispatchDelete(ctx, ev, userID, chatID, intent)
	case model.IntentCreateSchedule:
		return o.dispatchCreateSchedule(ctx, ev, userID, chatID, intent)
	default:
		// incomplete / unknown: stay silent rather than answering every bit
		// of group chatter.
		return nil
	}
}

func (o *Orchestrator) dispatchCreate(ctx context.Context, ev model.InboundEvent, userID, chatID string, intent *model.Intent) error {
	if intent.Event == nil || intent.Event.Start.IsZero() {
		return nil
	}
	cand := *intent.Event

	if cand.End.IsZero() && !cand.AllDay {
		cand.End = cand.Start.Add(time.Hour)
	}

	if cand.Title == "" {
		if err := o.setState(ctx, userID, chatID, &model.AwaitingEventTitle{Event: cand}); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(askTitleText))
	}

	return o.startCreate(ctx, ev.ReplyToken, userID, chatID, cand)
}

// startCreate runs the create flow for a complete candidate: recurrence end
// condition first, then calendar selection, then the guarded create.
func (o *Orchestrator) startCreate(ctx context.Context, replyToken, userID, chatID string, cand model.CandidateEvent) error {
	if recurrence.NeedsEndCondition(cand.Recurrence) {
		if err := o.setState(ctx, userID, chatID, &model.AwaitingRecurrenceEndCondition{Event: cand}); err != nil {
			return o.failAndClear(ctx, replyToken, userID, chatID)
		}
		return o.reply(ctx, replyToken, messaging.NewText(askRecurrenceText))
	}

	cals, err := o.backend.ListEligibleCalendars(ctx)
	if err != nil {
		o.logger.Error("listing calendars failed", zap.Error(err))
		return o.failAndClear(ctx, replyToken, userID, chatID)
	}

	switch {
	case len(cals) == 0:
		o.clearState(ctx, userID, chatID)
		return o.reply(ctx, replyToken, messaging.NewText("沒有可用的日曆。"))
	case len(cals) > 1:
		if err := o.setState(ctx, userID, chatID, &model.AwaitingCalendarChoice{Event: cand}); err != nil {
			return o.failAndClear(ctx, replyToken, userID, chatID)
		}
		return o.reply(ctx, replyToken, calendarChoiceCard(cand, cals))
	default:
		return o.createOn(ctx, replyToken, userID, chatID, cand, cals[0].ID)
	}
}

// createOn performs the guarded create against one calendar, handling the
// duplicate failure and the conflict soft stop.
func (o *Orchestrator) createOn(ctx context.Context, replyToken, userID, chatID string, cand model.CandidateEvent, calendarID string) error {
	created, conflicts, err := o.guard.CreateChecked(ctx, calendarID, cand)
	if err != nil {
		var dup *calendar.DuplicateError
		if errors.As(err, &dup) {
			o.clearState(ctx, userID, chatID)
			return o.reply(ctx, replyToken, duplicateMessage(dup.Existing))
		}
		o.logger.Error("guarded create failed",
			zap.String("calendar_id", calendarID), zap.Error(err))
		return o.failAndClear(ctx, replyToken, userID, chatID)
	}

	if len(conflicts) > 0 {
		st := &model.AwaitingConflictConfirmation{Event: cand, CalendarID: calendarID}
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, replyToken, userID, chatID)
		}
		return o.reply(ctx, replyToken, conflictCard(cand, conflicts))
	}

	o.clearState(ctx, userID, chatID)
	o.publishAudit(ctx, "create", calendarID, created.ID, userID)
	return o.reply(ctx, replyToken, createdMessage(created))
}

func (o *Orchestrator) dispatchQuery(ctx context.Context, ev model.InboundEvent, intent *model.Intent) error {
	events, hasMore, err := o.searchAll(ctx, intent.Window, intent.Keyword)
	if err != nil {
		o.logger.Error("query fan-out failed", zap.Error(err))
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(genericFailureText))
	}
	return o.reply(ctx, ev.ReplyToken, queryResultMessage(events, o.pageSize, hasMore))
}

func (o *Orchestrator) dispatchUpdate(ctx context.Context, ev model.InboundEvent, userID, chatID string, intent *model.Intent) error {
	matches, _, err := o.searchAll(ctx, intent.Window, intent.Keyword)
	if err != nil {
		o.logger.Error("update search failed", zap.Error(err))
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(genericFailureText))
	}

	switch {
	case len(matches) == 0:
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(notFoundText))

	case len(matches) == 1:
		target := matches[0]
		if !intent.Patch.IsEmpty() {
			return o.applyUpdate(ctx, ev.ReplyToken, userID, chatID, target.CalendarID, target.ID, *intent.Patch)
		}
		st := &model.AwaitingModificationDetails{EventID: target.ID, CalendarID: target.CalendarID}
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(askChangesText))

	default:
		if len(matches) > o.pageSize {
			matches = matches[:o.pageSize]
		}
		// Ids stay empty until the user picks one from the list.
		if err := o.setState(ctx, userID, chatID, &model.AwaitingModificationDetails{}); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, disambiguationCard(matches))
	}
}

// applyUpdate patches one event and reports the result.
func (o *Orchestrator) applyUpdate(ctx context.Context, replyToken, userID, chatID, calendarID, eventID string, patch model.EventPatch) error {
	updated, err := o.backend.Update(ctx, calendarID, eventID, patch)
	if err != nil {
		o.logger.Error("update failed",
			zap.String("calendar_id", calendarID), zap.String("event_id", eventID), zap.Error(err))
		return o.failAndClear(ctx, replyToken, userID, chatID)
	}
	o.clearState(ctx, userID, chatID)
	o.publishAudit(ctx, "update", calendarID, eventID, userID)
	return o.reply(ctx, replyToken, messaging.NewText("已更新："+formatBackendEvent(*updated)))
}

func (o *Orchestrator) dispatchDelete(ctx context.Context, ev model.InboundEvent, userID, chatID string, intent *model.Intent) error {
	matches, _, err := o.searchAll(ctx, intent.Window, intent.Keyword)
	if err != nil {
		o.logger.Error("delete search failed", zap.Error(err))
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(genericFailureText))
	}

	switch {
	case len(matches) == 0:
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(notFoundText))
	case len(matches) == 1:
		target := matches[0]
		st := &model.AwaitingDeleteConfirmation{
			EventID:    target.ID,
			CalendarID: target.CalendarID,
			Title:      target.Title,
		}
		if err := o.setState(ctx, userID, chatID, st); err != nil {
			return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
		}
		return o.reply(ctx, ev.ReplyToken, deleteConfirmCard(target))
	default:
		// Never guess which one to delete.
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(tooManyDeleteText))
	}
}

func (o *Orchestrator) dispatchCreateSchedule(ctx context.Context, ev model.InboundEvent, userID, chatID string, intent *model.Intent) error {
	if intent.PersonName == "" {
		return nil
	}
	if err := o.setState(ctx, userID, chatID, &model.AwaitingCSVUpload{PersonName: intent.PersonName}); err != nil {
		return o.failAndClear(ctx, ev.ReplyToken, userID, chatID)
	}
	return o.reply(ctx, ev.ReplyToken, messaging.NewText(askFile(intent.PersonName)))
}
