package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/calendar-assistant/internal/bulkimport"
	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/guard"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
)

// scriptedClassifier returns canned intents keyed by input text.
type scriptedClassifier struct {
	intents map[string]*model.Intent
	err     error
}

func (c *scriptedClassifier) Classify(ctx context.Context, text string) (*model.Intent, error) {
	if c.err != nil {
		return nil, c.err
	}
	if intent, ok := c.intents[text]; ok {
		return intent, nil
	}
	return &model.Intent{Type: model.IntentUnknown}, nil
}

// recordingChannel captures outbound messages.
type recordingChannel struct {
	mu      sync.Mutex
	replies []messaging.Message
	pushes  []messaging.Message
	file    string
}

func (c *recordingChannel) Reply(ctx context.Context, replyToken string, msgs []messaging.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, msgs...)
	return nil
}

func (c *recordingChannel) Push(ctx context.Context, chatID string, msgs []messaging.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, msgs...)
	return nil
}

func (c *recordingChannel) GetContent(ctx context.Context, messageID string) (io.ReadCloser, error) {
	if c.file == "" {
		return nil, errors.New("no content")
	}
	return io.NopCloser(strings.NewReader(c.file)), nil
}

func (c *recordingChannel) lastReply() messaging.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return messaging.Message{}
	}
	return c.replies[len(c.replies)-1]
}

// stubBackend serves canned calendars, search results and creations.
type stubBackend struct {
	mu          sync.Mutex
	calendars   []calendar.Calendar
	searchByCal map[string][]calendar.Event
	rangeByCal  map[string][]calendar.Event
	created     []model.CandidateEvent
	deleted     []string
	updated     []model.EventPatch
	createErr   error
}

func (b *stubBackend) Search(ctx context.Context, calendarID string, timeMin, timeMax time.Time, keyword string) (*calendar.SearchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &calendar.SearchResult{Events: b.searchByCal[calendarID]}, nil
}

func (b *stubBackend) FindInRange(ctx context.Context, calendarID string, start, end time.Time) ([]calendar.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rangeByCal[calendarID], nil
}

func (b *stubBackend) Create(ctx context.Context, calendarID string, ev model.CandidateEvent) (*calendar.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.created = append(b.created, ev.WithCalendar(calendarID))
	return &calendar.Event{
		ID: "new-1", CalendarID: calendarID, Title: ev.Title,
		Start: ev.Start, End: ev.End, AllDay: ev.AllDay,
	}, nil
}

func (b *stubBackend) Update(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (*calendar.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updated = append(b.updated, patch)
	return &calendar.Event{ID: eventID, CalendarID: calendarID, Title: "updated",
		Start: time.Now(), End: time.Now().Add(time.Hour)}, nil
}

func (b *stubBackend) Delete(ctx context.Context, calendarID, eventID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, calendarID+"/"+eventID)
	return nil
}

func (b *stubBackend) ListEligibleCalendars(ctx context.Context) ([]calendar.Calendar, error) {
	return b.calendars, nil
}

type fixture struct {
	orch    *Orchestrator
	store   *session.MemoryStore
	backend *stubBackend
	channel *recordingChannel
	cls     *scriptedClassifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)

	store := session.NewMemoryStore()
	backend := &stubBackend{
		calendars:   []calendar.Calendar{{ID: "cal-1", DisplayName: "工作"}},
		searchByCal: map[string][]calendar.Event{},
		rangeByCal:  map[string][]calendar.Event{},
	}
	channel := &recordingChannel{}
	cls := &scriptedClassifier{intents: map[string]*model.Intent{}}
	g := guard.New(backend, log)
	engine := bulkimport.New(g, backend, store, channel, nil, log).WithBatching(5, time.Millisecond)

	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	orch := New(store, backend, cls, channel, g, engine, nil, cfg, log)
	return &fixture{orch: orch, store: store, backend: backend, channel: channel, cls: cls}
}

func textEvent(userID, chatID, text string) model.InboundEvent {
	return model.InboundEvent{
		Type:       model.InboundMessage,
		ReplyToken: "rt-1",
		Source:     model.Source{Type: model.SourceUser, UserID: userID, ChatID: chatID},
		Message:    &model.MessageContent{ID: "msg-1", Type: "text", Text: text},
	}
}

func postbackEvent(userID, chatID, data string) model.InboundEvent {
	return model.InboundEvent{
		Type:       model.InboundPostback,
		ReplyToken: "rt-1",
		Source:     model.Source{Type: model.SourceUser, UserID: userID, ChatID: chatID},
		Postback:   &model.PostbackContent{Data: data},
	}
}

func TestDispatchWelcomesOnFollow(t *testing.T) {
	f := newFixture(t, Config{})

	ev := model.InboundEvent{Type: model.InboundFollow, ReplyToken: "rt-1"}
	require.NoError(t, f.orch.Dispatch(context.Background(), ev))
	require.Len(t, f.channel.replies, 1)
	require.Equal(t, welcomeText, f.channel.replies[0].Text)
}

func TestDispatchDropsNonWhitelistedSender(t *testing.T) {
	f := newFixture(t, Config{Whitelist: []string{"user-allowed"}})

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("user-other", "chat-1", "明天開會")))
	require.Empty(t, f.channel.replies)
}

func TestCreateFlowAsksForMissingTitle(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.cls.intents["明天下午三點"] = &model.Intent{
		Type:  model.IntentCreateEvent,
		Event: &model.CandidateEvent{Start: start},
	}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "明天下午三點")))
	require.Equal(t, askTitleText, f.channel.lastReply().Text)

	sess, err := f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, model.StepAwaitingEventTitle, sess.State.Step())

	// The title reply completes the create; the end defaults to start+1h.
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "跟客戶開會")))
	require.Len(t, f.backend.created, 1)
	require.Equal(t, "跟客戶開會", f.backend.created[0].Title)
	require.True(t, f.backend.created[0].End.Equal(start.Add(time.Hour)))
	require.Contains(t, f.channel.lastReply().Text, "已建立")

	sess, err = f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestCreateFlowDuplicateRefused(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.backend.searchByCal["cal-1"] = []calendar.Event{{
		ID: "ev-1", CalendarID: "cal-1", Title: "跟客戶開會",
		Start: start, End: start.Add(time.Hour),
	}}
	f.cls.intents["建立會議"] = &model.Intent{
		Type:  model.IntentCreateEvent,
		Event: &model.CandidateEvent{Title: "跟客戶開會", Start: start, End: start.Add(time.Hour)},
	}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "建立會議")))
	require.Empty(t, f.backend.created)
	require.Contains(t, f.channel.lastReply().Text, "已經存在")
}

func TestCreateFlowConflictConfirm(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.backend.rangeByCal["cal-1"] = []calendar.Event{{
		ID: "ev-busy", CalendarID: "cal-1", Title: "站立會議",
		Start: start, End: start.Add(30 * time.Minute),
	}}
	f.cls.intents["建立會議"] = &model.Intent{
		Type:  model.IntentCreateEvent,
		Event: &model.CandidateEvent{Title: "跟客戶開會", Start: start, End: start.Add(time.Hour)},
	}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "建立會議")))
	require.Empty(t, f.backend.created)
	require.NotNil(t, f.channel.lastReply().Card)

	sess, err := f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, model.StepAwaitingConflictConfirmation, sess.State.Step())

	// Confirming creates without re-checking and clears the state.
	confirm := model.Postback{Action: model.ActionConfirmConflict}.Encode()
	require.NoError(t, f.orch.Dispatch(context.Background(), postbackEvent("u1", "c1", confirm)))
	require.Len(t, f.backend.created, 1)

	sess, err = f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestCancelClearsPendingStep(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.cls.intents["開會"] = &model.Intent{
		Type:  model.IntentCreateEvent,
		Event: &model.CandidateEvent{Start: start},
	}
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "開會")))

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "取消")))
	require.Equal(t, cancelledText, f.channel.lastReply().Text)

	sess, err := f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestPostbackWithoutSessionIsExpired(t *testing.T) {
	f := newFixture(t, Config{})

	confirm := model.Postback{Action: model.ActionConfirmDelete}.Encode()
	require.NoError(t, f.orch.Dispatch(context.Background(), postbackEvent("u1", "c1", confirm)))
	require.Equal(t, expiredText, f.channel.lastReply().Text)
}

func TestExpiredStepInvisibleToText(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.cls.intents["開會"] = &model.Intent{
		Type:  model.IntentCreateEvent,
		Event: &model.CandidateEvent{Start: start},
	}
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "開會")))
	f.store.Backdate("u1", "c1", time.Now().Add(-11*time.Minute))

	// With the step expired the same text goes back through intent
	// classification instead of the title handler.
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "開會")))
	require.Equal(t, askTitleText, f.channel.lastReply().Text)
}

func TestDeleteFlowRequiresConfirmation(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.backend.searchByCal["cal-1"] = []calendar.Event{{
		ID: "ev-1", CalendarID: "cal-1", Title: "舊會議",
		Start: start, End: start.Add(time.Hour),
	}}
	f.cls.intents["刪除舊會議"] = &model.Intent{
		Type:    model.IntentDeleteEvent,
		Keyword: "舊會議",
	}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "刪除舊會議")))
	require.NotNil(t, f.channel.lastReply().Card)
	require.Empty(t, f.backend.deleted)

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "確認")))
	require.Equal(t, []string{"cal-1/ev-1"}, f.backend.deleted)
	require.Contains(t, f.channel.lastReply().Text, "已刪除")
}

func TestDeleteFlowRefusesAmbiguousMatch(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.backend.searchByCal["cal-1"] = []calendar.Event{
		{ID: "ev-1", CalendarID: "cal-1", Title: "會議", Start: start, End: start.Add(time.Hour)},
		{ID: "ev-2", CalendarID: "cal-1", Title: "會議", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}
	f.cls.intents["刪除會議"] = &model.Intent{Type: model.IntentDeleteEvent, Keyword: "會議"}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "刪除會議")))
	require.Equal(t, tooManyDeleteText, f.channel.lastReply().Text)
	require.Empty(t, f.backend.deleted)

	// No pending state: deletion never proceeds from an ambiguous match.
	sess, err := f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestUpdateFlowDisambiguationPick(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	f.backend.searchByCal["cal-1"] = []calendar.Event{
		{ID: "ev-1", CalendarID: "cal-1", Title: "會議", Start: start, End: start.Add(time.Hour)},
		{ID: "ev-2", CalendarID: "cal-1", Title: "會議", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}
	f.cls.intents["改會議"] = &model.Intent{Type: model.IntentUpdateEvent, Keyword: "會議"}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "改會議")))
	card := f.channel.lastReply().Card
	require.NotNil(t, card)
	require.Len(t, card.Actions, 2)

	// Pick the second event, then describe the change.
	pick := model.Postback{Action: model.ActionModify, EventID: "ev-2", CalendarID: "cal-1"}.Encode()
	require.NoError(t, f.orch.Dispatch(context.Background(), postbackEvent("u1", "c1", pick)))
	require.Equal(t, askChangesText, f.channel.lastReply().Text)

	newStart := start.Add(4 * time.Hour)
	f.cls.intents["改到下午七點"] = &model.Intent{
		Type:  model.IntentUpdateEvent,
		Patch: &model.EventPatch{Start: &newStart},
	}
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "改到下午七點")))
	require.Len(t, f.backend.updated, 1)
	require.Contains(t, f.channel.lastReply().Text, "已更新")
}

func TestQueryFlowPaginates(t *testing.T) {
	f := newFixture(t, Config{PageSize: 2})
	start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	f.backend.searchByCal["cal-1"] = []calendar.Event{
		{ID: "ev-1", CalendarID: "cal-1", Title: "一", Start: start, End: start.Add(time.Hour)},
		{ID: "ev-2", CalendarID: "cal-1", Title: "二", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
		{ID: "ev-3", CalendarID: "cal-1", Title: "三", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}
	f.cls.intents["這週行程"] = &model.Intent{Type: model.IntentQueryEvent}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "這週行程")))
	text := f.channel.lastReply().Text
	require.Contains(t, text, "一")
	require.Contains(t, text, "二")
	require.NotContains(t, text, "三")
	require.Contains(t, text, "還有更多結果")
}

func TestScheduleFlowEndToEnd(t *testing.T) {
	f := newFixture(t, Config{})

	f.cls.intents["幫小明排班"] = &model.Intent{
		Type:       model.IntentCreateSchedule,
		PersonName: "小明",
	}
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "幫小明排班")))
	require.Contains(t, f.channel.lastReply().Text, "小明")

	// Upload a CSV shift table.
	f.channel.file = "姓名,1,2,3\n小明,早,休,晚\n"
	fileEv := textEvent("u1", "c1", "")
	fileEv.Message = &model.MessageContent{ID: "msg-2", Type: "file", FileName: "shifts.csv"}
	require.NoError(t, f.orch.Dispatch(context.Background(), fileEv))

	card := f.channel.lastReply().Card
	require.NotNil(t, card)

	sess, err := f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, model.StepAwaitingBulkConfirmation, sess.State.Step())

	// Confirm import into cal-1; the run pushes a summary and clears state.
	importData := model.Postback{Action: model.ActionImport, CalendarID: "cal-1"}.Encode()
	require.NoError(t, f.orch.Dispatch(context.Background(), postbackEvent("u1", "c1", importData)))

	require.Len(t, f.backend.created, 2)
	require.Len(t, f.channel.pushes, 1)
	require.Contains(t, f.channel.pushes[0].Text, "成功 2 筆")

	sess, err = f.store.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestUnknownIntentStaysSilent(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "哈哈哈")))
	require.Empty(t, f.channel.replies)
}

func TestRecurrenceFlowAsksEndCondition(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	f.cls.intents["每週站立會議"] = &model.Intent{
		Type: model.IntentCreateEvent,
		Event: &model.CandidateEvent{
			Title: "站立會議", Start: start, End: start.Add(30 * time.Minute),
			Recurrence: "FREQ=WEEKLY",
		},
	}

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "每週站立會議")))
	require.Equal(t, askRecurrenceText, f.channel.lastReply().Text)

	// Garbage re-prompts without losing the step.
	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "隨便")))
	require.Contains(t, f.channel.lastReply().Text, "看不懂")

	require.NoError(t, f.orch.Dispatch(context.Background(), textEvent("u1", "c1", "共 5 次")))
	require.Len(t, f.backend.created, 1)
	require.Equal(t, "FREQ=WEEKLY;COUNT=5", f.backend.created[0].Recurrence)
}

func TestDispatchReleasesConversationLocks(t *testing.T) {
	f := newFixture(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		user := fmt.Sprintf("user-%d", i%3)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.orch.Dispatch(context.Background(), textEvent(user, "chat-1", "哈哈哈"))
		}()
	}
	wg.Wait()

	// Every per-conversation lock entry is dropped once its last holder
	// releases, so the map stays empty between dispatches.
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	require.Empty(t, f.orch.keyLocks)
}
