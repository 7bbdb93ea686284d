package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
)

const (
	welcomeText        = "嗨！我是行事曆助理，直接跟我說「明天下午三點跟客戶開會」就能建立行程。"
	cancelledText      = "好的，已取消。"
	genericFailureText = "系統忙碌中，請稍後再試。"
	expiredText        = "這個請求已逾時，請重新開始。"
	askTitleText       = "好的，請問這個行程的標題是什麼？"
	askRecurrenceText  = "這是重複行程，請問要重複到什麼時候？（例如「共 5 次」或「到 2026-01-31」）"
	askChangesText     = "請描述要修改的內容。"
	askFileText        = "請上傳 %s 的班表檔案（CSV 或 XLSX）。"
	notFoundText       = "找不到符合的事件。"
	tooManyDeleteText  = "符合的事件不只一個，請先查詢並縮小範圍後再刪除。"
)

func askFile(personName string) string {
	return fmt.Sprintf(askFileText, personName)
}

func formatEventSpan(start, end time.Time, allDay bool) string {
	if allDay {
		return start.Format("01/02") + " 整天"
	}
	return start.Format("01/02 15:04") + "–" + end.Format("15:04")
}

func formatBackendEvent(ev calendar.Event) string {
	return formatEventSpan(ev.Start, ev.End, ev.AllDay) + " " + ev.Title
}

func formatCandidate(cand model.CandidateEvent) string {
	return formatEventSpan(cand.Start, cand.End, cand.AllDay) + " " + cand.Title
}

func createdMessage(created *calendar.Event) messaging.Message {
	text := "已建立：" + formatBackendEvent(*created)
	if created.HTMLLink != "" {
		text += "\n" + created.HTMLLink
	}
	return messaging.NewText(text)
}

func duplicateMessage(existing calendar.Event) messaging.Message {
	text := "這個行程已經存在：" + formatBackendEvent(existing)
	if existing.HTMLLink != "" {
		text += "\n" + existing.HTMLLink
	}
	return messaging.NewText(text)
}

func calendarChoiceCard(cand model.CandidateEvent, cals []calendar.Calendar) messaging.Message {
	actions := make([]messaging.CardAction, 0, len(cals))
	for _, cal := range cals {
		actions = append(actions, messaging.CardAction{
			Label: cal.DisplayName,
			Data:  model.Postback{Action: model.ActionChooseCalendar, CalendarID: cal.ID}.Encode(),
		})
	}
	return messaging.NewCard(messaging.Card{
		Title:   "要放到哪個日曆？",
		Text:    formatCandidate(cand),
		Actions: actions,
	})
}

func conflictCard(cand model.CandidateEvent, conflicts []calendar.Event) messaging.Message {
	lines := make([]string, 0, len(conflicts)+1)
	lines = append(lines, "這個時段已有行程：")
	for _, ev := range conflicts {
		lines = append(lines, "・"+formatBackendEvent(ev))
	}
	return messaging.NewCard(messaging.Card{
		Title: "時間衝突",
		Text:  strings.Join(lines, "\n"),
		Actions: []messaging.CardAction{
			{Label: "仍要建立", Data: model.Postback{Action: model.ActionConfirmConflict}.Encode()},
			{Label: "取消", Data: model.Postback{Action: model.ActionCancel}.Encode()},
		},
	})
}

func deleteConfirmCard(ev calendar.Event) messaging.Message {
	return messaging.NewCard(messaging.Card{
		Title: "確定要刪除嗎？",
		Text:  formatBackendEvent(ev),
		Actions: []messaging.CardAction{
			{Label: "確認刪除", Data: model.Postback{
				Action:     model.ActionConfirmDelete,
				EventID:    ev.ID,
				CalendarID: ev.CalendarID,
			}.Encode()},
			{Label: "取消", Data: model.Postback{Action: model.ActionCancel}.Encode()},
		},
	})
}

func disambiguationCard(events []calendar.Event) messaging.Message {
	actions := make([]messaging.CardAction, 0, len(events))
	for _, ev := range events {
		actions = append(actions, messaging.CardAction{
			Label: formatBackendEvent(ev),
			Data: model.Postback{
				Action:     model.ActionModify,
				EventID:    ev.ID,
				CalendarID: ev.CalendarID,
			}.Encode(),
		})
	}
	return messaging.NewCard(messaging.Card{
		Title:   "找到多個事件，要修改哪一個？",
		Text:    "請選擇：",
		Actions: actions,
	})
}

func bulkDestinationCard(count int, cals []calendar.Calendar) messaging.Message {
	actions := make([]messaging.CardAction, 0, len(cals)+1)
	for _, cal := range cals {
		actions = append(actions, messaging.CardAction{
			Label: cal.DisplayName,
			Data:  model.Postback{Action: model.ActionImport, CalendarID: cal.ID}.Encode(),
		})
	}
	actions = append(actions, messaging.CardAction{
		Label: "全部日曆",
		Data:  model.Postback{Action: model.ActionImport, CalendarID: model.ImportAllCalendars}.Encode(),
	})
	return messaging.NewCard(messaging.Card{
		Title:   fmt.Sprintf("解析出 %d 筆班表", count),
		Text:    "要匯入哪個日曆？",
		Actions: actions,
	})
}

func queryResultMessage(events []calendar.Event, pageSize int, hasMore bool) messaging.Message {
	if len(events) == 0 {
		return messaging.NewText(notFoundText)
	}

	truncated := hasMore
	if len(events) > pageSize {
		events = events[:pageSize]
		truncated = true
	}

	lines := make([]string, 0, len(events)+1)
	for _, ev := range events {
		lines = append(lines, "・"+formatBackendEvent(ev))
	}
	if truncated {
		lines = append(lines, "…還有更多結果，請縮小查詢範圍。")
	}
	return messaging.NewText(strings.Join(lines, "\n"))
}
