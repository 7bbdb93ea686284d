// Package orchestrator routes inbound chat events through the conversation
// state machine.
//
// One Dispatch call handles one webhook event: whitelist check, lazy session
// expiry, then either the pending step's handler or intent classification.
// Handlers talk to the calendar backend through the guard, persist state in
// the session store, and answer through the messaging channel.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/bulkimport"
	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/classifier"
	"github.com/daybook-ai/calendar-assistant/internal/guard"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	natsclient "github.com/daybook-ai/calendar-assistant/internal/nats"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

// DefaultPageSize caps query result lists.
const DefaultPageSize = 10

// DefaultSearchConcurrency bounds the multi-calendar search fan-out.
const DefaultSearchConcurrency = 4

// Auditor records calendar mutations. Nil disables auditing.
type Auditor interface {
	Publish(ctx context.Context, rec natsclient.AuditRecord) error
}

// Config carries the orchestrator's tunables.
type Config struct {
	// Whitelist lists permitted user ids. Empty means everyone is allowed.
	Whitelist []string

	// Timezone anchors relative-date handling for shift files. Nil means
	// time.Local.
	Timezone *time.Location

	PageSize          int
	SearchConcurrency int
}

// Orchestrator is the per-event state machine and intent dispatcher.
type Orchestrator struct {
	store      session.Store
	backend    calendar.Service
	classifier classifier.Classifier
	channel    messaging.Channel
	guard      *guard.Guard
	engine     *bulkimport.Engine
	audit      Auditor
	logger     *logger.Logger

	whitelist         map[string]bool
	timezone          *time.Location
	pageSize          int
	searchConcurrency int

	// keyLocks serializes dispatches for the same (user, chat) key. Webhook
	// deliveries are usually serial per source, but nothing upstream
	// guarantees it, and interleaved read-modify-writes on one session
	// would corrupt the conversation. Entries are reference counted and
	// removed once the last holder releases, so the map does not grow with
	// the number of users ever seen.
	mu       sync.Mutex
	keyLocks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New wires an orchestrator.
func New(
	store session.Store,
	backend calendar.Service,
	cls classifier.Classifier,
	channel messaging.Channel,
	g *guard.Guard,
	engine *bulkimport.Engine,
	audit Auditor,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	wl := make(map[string]bool, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		if id = strings.TrimSpace(id); id != "" {
			wl[id] = true
		}
	}
	tz := cfg.Timezone
	if tz == nil {
		tz = time.Local
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	conc := cfg.SearchConcurrency
	if conc <= 0 {
		conc = DefaultSearchConcurrency
	}
	return &Orchestrator{
		store:             store,
		backend:           backend,
		classifier:        cls,
		channel:           channel,
		guard:             g,
		engine:            engine,
		audit:             audit,
		logger:            log,
		whitelist:         wl,
		timezone:          tz,
		pageSize:          pageSize,
		searchConcurrency: conc,
		keyLocks:          make(map[string]*keyLock),
	}
}

// Dispatch handles one inbound event end to end. It returns an error only
// for unexpected failures the webhook layer should log; user-facing failure
// modes are answered in-channel and return nil.
func (o *Orchestrator) Dispatch(ctx context.Context, ev model.InboundEvent) error {
	metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	// Joining a group or being followed always gets a welcome, whitelist or
	// not.
	if ev.Type == model.InboundJoin || ev.Type == model.InboundFollow {
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(welcomeText))
	}

	userID := ev.Source.UserID
	chatID := ev.Source.ChatID
	if chatID == "" {
		chatID = userID
	}

	if len(o.whitelist) > 0 && !o.whitelist[userID] {
		o.logger.Debug("dropping event from non-whitelisted sender",
			zap.String("user_id", userID))
		return nil
	}

	unlock := o.lockKey(userID + "\x00" + chatID)
	defer unlock()

	sess, err := o.store.Get(ctx, userID, chatID)
	if err != nil {
		o.logger.Error("session store read failed",
			zap.String("user_id", userID), zap.String("chat_id", chatID), zap.Error(err))
		return o.reply(ctx, ev.ReplyToken, messaging.NewText(genericFailureText))
	}

	switch ev.Type {
	case model.InboundPostback:
		if ev.Postback == nil {
			return nil
		}
		return o.handlePostback(ctx, ev, userID, chatID, sess)

	case model.InboundMessage:
		if ev.Message == nil {
			return nil
		}
		if ev.Message.Type == "file" {
			return o.handleFile(ctx, ev, userID, chatID, sess)
		}
		text := strings.TrimSpace(ev.Message.Text)
		if sess != nil {
			if isCancel(text) {
				return o.cancel(ctx, ev.ReplyToken, userID, chatID)
			}
			return o.handleStepText(ctx, ev, userID, chatID, sess, text)
		}
		return o.handleIntent(ctx, ev, userID, chatID, text)
	}
	return nil
}

func (o *Orchestrator) lockKey(key string) func() {
	o.mu.Lock()
	kl, ok := o.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		o.keyLocks[key] = kl
	}
	kl.refs++
	o.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		o.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(o.keyLocks, key)
		}
		o.mu.Unlock()
	}
}

var cancelWords = map[string]bool{
	"取消": true, "算了": true, "cancel": true, "不用了": true,
}

func isCancel(text string) bool {
	return cancelWords[strings.ToLower(text)]
}

// cancel clears any pending state and acknowledges.
func (o *Orchestrator) cancel(ctx context.Context, replyToken, userID, chatID string) error {
	if err := o.store.Clear(ctx, userID, chatID); err != nil {
		o.logger.Error("failed to clear session on cancel", zap.Error(err))
	}
	return o.reply(ctx, replyToken, messaging.NewText(cancelledText))
}

// setState replaces the pending session with a new step.
func (o *Orchestrator) setState(ctx context.Context, userID, chatID string, st model.StepState) error {
	metrics.SessionStepsTotal.WithLabelValues(string(st.Step())).Inc()
	return o.store.Set(ctx, userID, chatID, &model.Session{State: st})
}

// clearState drops the pending session, logging rather than failing; a
// leftover record only costs the user a "request expired" on a later tap.
func (o *Orchestrator) clearState(ctx context.Context, userID, chatID string) {
	if err := o.store.Clear(ctx, userID, chatID); err != nil {
		o.logger.Error("failed to clear session",
			zap.String("user_id", userID), zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (o *Orchestrator) reply(ctx context.Context, replyToken string, msgs ...messaging.Message) error {
	if replyToken == "" || len(msgs) == 0 {
		return nil
	}
	if err := o.channel.Reply(ctx, replyToken, msgs); err != nil {
		o.logger.Error("reply failed", zap.Error(err))
		return err
	}
	return nil
}

// failAndClear answers a generic failure and drops pending state so the
// user is not stuck in a dead step.
func (o *Orchestrator) failAndClear(ctx context.Context, replyToken, userID, chatID string) error {
	o.clearState(ctx, userID, chatID)
	return o.reply(ctx, replyToken, messaging.NewText(genericFailureText))
}

// expired answers the stale-state reply without touching the store.
func (o *Orchestrator) expired(ctx context.Context, replyToken string) error {
	return o.reply(ctx, replyToken, messaging.NewText(expiredText))
}

func (o *Orchestrator) publishAudit(ctx context.Context, action string, calendarID, eventID, userID string) {
	if o.audit == nil {
		return
	}
	rec := natsclient.NewAuditRecord(action, calendarID, eventID, userID)
	if err := o.audit.Publish(ctx, rec); err != nil {
		o.logger.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
	}
}
