package bulkimport

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/guard"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	natsclient "github.com/daybook-ai/calendar-assistant/internal/nats"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
)

// fakeBackend routes per-title outcomes: titles in dupTitles report an
// existing event, titles in failTitles fail the create, everything else
// succeeds.
type fakeBackend struct {
	mu         sync.Mutex
	calendars  []calendar.Calendar
	listErr    error
	dupTitles  map[string]bool
	failTitles map[string]bool
	created    []model.CandidateEvent
}

func (f *fakeBackend) Search(ctx context.Context, calendarID string, timeMin, timeMax time.Time, keyword string) (*calendar.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupTitles[keyword] {
		return &calendar.SearchResult{Events: []calendar.Event{{
			ID: "existing-1", CalendarID: calendarID, Title: keyword,
			Start: timeMin, End: timeMax,
		}}}, nil
	}
	return &calendar.SearchResult{}, nil
}

func (f *fakeBackend) FindInRange(ctx context.Context, calendarID string, start, end time.Time) ([]calendar.Event, error) {
	return nil, nil
}

func (f *fakeBackend) Create(ctx context.Context, calendarID string, ev model.CandidateEvent) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitles[ev.Title] {
		return nil, errors.New("backend rejected event")
	}
	f.created = append(f.created, ev.WithCalendar(calendarID))
	return &calendar.Event{ID: "new-1", CalendarID: calendarID, Title: ev.Title, Start: ev.Start, End: ev.End}, nil
}

func (f *fakeBackend) Update(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (*calendar.Event, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) Delete(ctx context.Context, calendarID, eventID string) error {
	return errors.New("not implemented")
}

func (f *fakeBackend) ListEligibleCalendars(ctx context.Context) ([]calendar.Calendar, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.calendars, nil
}

type fakeChannel struct {
	mu     sync.Mutex
	pushed []string
}

func (f *fakeChannel) Reply(ctx context.Context, replyToken string, msgs []messaging.Message) error {
	return nil
}

func (f *fakeChannel) Push(ctx context.Context, chatID string, msgs []messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.pushed = append(f.pushed, m.Text)
	}
	return nil
}

func (f *fakeChannel) GetContent(ctx context.Context, messageID string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type recordingAuditor struct {
	mu   sync.Mutex
	recs []natsclient.AuditRecord
}

func (a *recordingAuditor) Publish(ctx context.Context, rec natsclient.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	require.NoError(t, err)
	return log
}

func shifts(titles ...string) []model.CandidateEvent {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := make([]model.CandidateEvent, len(titles))
	for i, title := range titles {
		start := base.AddDate(0, 0, i)
		out[i] = model.CandidateEvent{Title: title, Start: start, End: start.Add(8 * time.Hour)}
	}
	return out
}

func newTestEngine(t *testing.T, backend *fakeBackend, channel *fakeChannel, store session.Store) *Engine {
	t.Helper()
	log := testLogger(t)
	g := guard.New(backend, log)
	return New(g, backend, store, channel, nil, log).WithBatching(2, time.Millisecond)
}

func TestRunBucketsSumToTotal(t *testing.T) {
	backend := &fakeBackend{
		dupTitles:  map[string]bool{"dup": true},
		failTitles: map[string]bool{"bad": true},
	}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	engine := newTestEngine(t, backend, channel, store)

	events := shifts("a", "b", "dup", "bad", "c")
	summary := engine.Run(context.Background(), "user-1", "chat-1", events, "cal-1")

	require.Equal(t, 3, summary.Success)
	require.Equal(t, 1, summary.Duplicate)
	require.Equal(t, 1, summary.Failure)
	require.Equal(t, len(events), summary.Total())
}

func TestRunAllCalendarsExpandsCrossProduct(t *testing.T) {
	backend := &fakeBackend{
		calendars: []calendar.Calendar{{ID: "cal-1"}, {ID: "cal-2"}, {ID: "cal-3"}},
	}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	engine := newTestEngine(t, backend, channel, store)

	events := shifts("a", "b")
	summary := engine.Run(context.Background(), "user-1", "chat-1", events, model.ImportAllCalendars)

	require.Equal(t, 6, summary.Success)
	require.Len(t, backend.created, 6)

	perCal := map[string]int{}
	for _, ev := range backend.created {
		perCal[ev.TargetCalendarID]++
	}
	require.Equal(t, map[string]int{"cal-1": 2, "cal-2": 2, "cal-3": 2}, perCal)
}

func TestRunClearsStateAndPushesSummary(t *testing.T) {
	backend := &fakeBackend{}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "user-1", "chat-1", &model.Session{
		State: &model.AwaitingBulkConfirmation{Events: shifts("a")},
	}))
	engine := newTestEngine(t, backend, channel, store)

	engine.Run(context.Background(), "user-1", "chat-1", shifts("a"), "cal-1")

	sess, err := store.Get(context.Background(), "user-1", "chat-1")
	require.NoError(t, err)
	require.Nil(t, sess)

	require.Len(t, channel.pushed, 1)
	require.Contains(t, channel.pushed[0], "成功 1 筆")
	require.Contains(t, channel.pushed[0], "已存在略過 0 筆")
	require.Contains(t, channel.pushed[0], "失敗 0 筆")
}

func TestRunExpansionFailureStillClearsState(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("backend down")}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "user-1", "chat-1", &model.Session{
		State: &model.AwaitingBulkConfirmation{Events: shifts("a")},
	}))
	engine := newTestEngine(t, backend, channel, store)

	summary := engine.Run(context.Background(), "user-1", "chat-1", shifts("a"), model.ImportAllCalendars)
	require.Equal(t, 0, summary.Total())

	sess, err := store.Get(context.Background(), "user-1", "chat-1")
	require.NoError(t, err)
	require.Nil(t, sess)

	require.Len(t, channel.pushed, 1)
	require.True(t, strings.Contains(channel.pushed[0], "匯入失敗"))
}

func TestRunAuditsEachSuccessfulCreation(t *testing.T) {
	backend := &fakeBackend{
		dupTitles:  map[string]bool{"dup": true},
		failTitles: map[string]bool{"bad": true},
	}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	auditor := &recordingAuditor{}
	log := testLogger(t)
	g := guard.New(backend, log)
	engine := New(g, backend, store, channel, auditor, log).WithBatching(2, time.Millisecond)

	summary := engine.Run(context.Background(), "user-1", "chat-1", shifts("a", "dup", "bad", "b"), "cal-1")

	require.Equal(t, 2, summary.Success)
	// Only successful creations leave an audit record; duplicates and
	// failures do not.
	require.Len(t, auditor.recs, 2)
	for _, rec := range auditor.recs {
		require.Equal(t, "create", rec.Action)
		require.Equal(t, "cal-1", rec.CalendarID)
		require.Equal(t, "user-1", rec.UserID)
		require.NotEmpty(t, rec.ID)
	}
}

func TestRunCancelledContextCountsRemainderAsFailures(t *testing.T) {
	backend := &fakeBackend{}
	channel := &fakeChannel{}
	store := session.NewMemoryStore()
	log := testLogger(t)
	g := guard.New(backend, log)
	// Batch size 1 with a long delay so cancellation lands between batches.
	engine := New(g, backend, store, channel, nil, log).WithBatching(1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := shifts("a", "b", "c")
	summary := engine.Run(ctx, "user-1", "chat-1", events, "cal-1")

	require.Equal(t, len(events), summary.Total())
	require.GreaterOrEqual(t, summary.Failure, 2)
}
