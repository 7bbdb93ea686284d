// Package bulkimport creates batches of candidate events against one or all
// eligible calendars with throttling and partial-failure accounting.
package bulkimport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/guard"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	natsclient "github.com/daybook-ai/calendar-assistant/internal/nats"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

const (
	// DefaultBatchSize is how many creations run concurrently per batch.
	DefaultBatchSize = 10
	// DefaultBatchDelay is the pause between batches, respecting backend
	// rate limits.
	DefaultBatchDelay = 500 * time.Millisecond
)

// Summary counts the outcome of one import run. Every expanded candidate
// lands in exactly one bucket.
type Summary struct {
	Success   int
	Duplicate int
	Failure   int
}

// Total is the number of creation calls issued.
func (s Summary) Total() int {
	return s.Success + s.Duplicate + s.Failure
}

// Auditor records calendar mutations. Nil disables auditing.
type Auditor interface {
	Publish(ctx context.Context, rec natsclient.AuditRecord) error
}

// Engine is the batch import engine.
type Engine struct {
	guard   *guard.Guard
	backend calendar.Service
	store   session.Store
	channel messaging.Channel
	audit   Auditor
	logger  *logger.Logger

	batchSize  int
	batchDelay time.Duration
}

// New creates an engine with default batch parameters.
func New(g *guard.Guard, backend calendar.Service, store session.Store, channel messaging.Channel, audit Auditor, log *logger.Logger) *Engine {
	return &Engine{
		guard:      g,
		backend:    backend,
		store:      store,
		channel:    channel,
		audit:      audit,
		logger:     log,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
	}
}

// WithBatching overrides batch size and inter-batch delay. Zero values keep
// the defaults.
func (e *Engine) WithBatching(size int, delay time.Duration) *Engine {
	if size > 0 {
		e.batchSize = size
	}
	if delay > 0 {
		e.batchDelay = delay
	}
	return e
}

// Run imports the candidates into the destination calendar, or into every
// eligible calendar when destination is model.ImportAllCalendars. It always
// clears the pending bulk state and pushes a single summary to the chat; no
// individual failure aborts the run, and engine-level errors are reported as
// a generic batch failure rather than propagated.
func (e *Engine) Run(ctx context.Context, userID, chatID string, events []model.CandidateEvent, destination string) Summary {
	start := time.Now()

	defer func() {
		if err := e.store.Clear(ctx, userID, chatID); err != nil {
			e.logger.Error("failed to clear bulk import state",
				zap.String("user_id", userID), zap.String("chat_id", chatID), zap.Error(err))
		}
		metrics.BulkImportDuration.Observe(time.Since(start).Seconds())
	}()

	tagged, err := e.expand(ctx, events, destination)
	if err != nil {
		e.logger.Error("bulk import expansion failed", zap.Error(err))
		e.push(ctx, chatID, "匯入失敗，請稍後再試。")
		return Summary{}
	}

	summary := e.createAll(ctx, userID, tagged)

	metrics.BulkImportEventsTotal.WithLabelValues("success").Add(float64(summary.Success))
	metrics.BulkImportEventsTotal.WithLabelValues("duplicate").Add(float64(summary.Duplicate))
	metrics.BulkImportEventsTotal.WithLabelValues("failure").Add(float64(summary.Failure))

	e.logger.Info("bulk import finished",
		zap.String("chat_id", chatID),
		zap.Int("success", summary.Success),
		zap.Int("duplicate", summary.Duplicate),
		zap.Int("failure", summary.Failure))

	e.push(ctx, chatID, fmt.Sprintf(
		"班表匯入完成：成功 %d 筆，已存在略過 %d 筆，失敗 %d 筆。",
		summary.Success, summary.Duplicate, summary.Failure))
	return summary
}

// expand resolves the destination into per-calendar tagged copies. "all"
// duplicates the list once per eligible calendar.
func (e *Engine) expand(ctx context.Context, events []model.CandidateEvent, destination string) ([]model.CandidateEvent, error) {
	if destination != model.ImportAllCalendars {
		tagged := make([]model.CandidateEvent, len(events))
		for i, ev := range events {
			tagged[i] = ev.WithCalendar(destination)
		}
		return tagged, nil
	}

	cals, err := e.backend.ListEligibleCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	tagged := make([]model.CandidateEvent, 0, len(events)*len(cals))
	for _, cal := range cals {
		for _, ev := range events {
			tagged = append(tagged, ev.WithCalendar(cal.ID))
		}
	}
	return tagged, nil
}

// createAll processes the tagged candidates in fixed-size batches. Creations
// within a batch run concurrently; the engine waits for the whole batch,
// failures included, before pausing and starting the next.
func (e *Engine) createAll(ctx context.Context, userID string, tagged []model.CandidateEvent) Summary {
	var (
		mu      sync.Mutex
		summary Summary
	)

	for offset := 0; offset < len(tagged); offset += e.batchSize {
		end := offset + e.batchSize
		if end > len(tagged) {
			end = len(tagged)
		}
		batch := tagged[offset:end]

		var wg sync.WaitGroup
		for _, cand := range batch {
			cand := cand
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := e.guard.CreateUnique(ctx, cand.TargetCalendarID, cand)
				if err == nil && created != nil {
					e.publishAudit(ctx, cand.TargetCalendarID, created.ID, userID)
				}

				mu.Lock()
				defer mu.Unlock()
				var dup *calendar.DuplicateError
				switch {
				case err == nil:
					summary.Success++
				case errors.As(err, &dup):
					summary.Duplicate++
				default:
					summary.Failure++
					e.logger.Warn("bulk import creation failed",
						zap.String("calendar_id", cand.TargetCalendarID),
						zap.String("title", cand.Title),
						zap.Error(err))
				}
			}()
		}
		wg.Wait()

		if end < len(tagged) {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				// Remaining candidates count as failures so the buckets
				// still sum to the expanded total.
				mu.Lock()
				summary.Failure += len(tagged) - end
				mu.Unlock()
				return summary
			}
		}
	}
	return summary
}

func (e *Engine) publishAudit(ctx context.Context, calendarID, eventID, userID string) {
	if e.audit == nil {
		return
	}
	rec := natsclient.NewAuditRecord("create", calendarID, eventID, userID)
	if err := e.audit.Publish(ctx, rec); err != nil {
		e.logger.Warn("audit publish failed",
			zap.String("calendar_id", calendarID), zap.String("event_id", eventID), zap.Error(err))
	}
}

func (e *Engine) push(ctx context.Context, chatID, text string) {
	if err := e.channel.Push(ctx, chatID, []messaging.Message{messaging.NewText(text)}); err != nil {
		e.logger.Error("failed to push bulk import summary",
			zap.String("chat_id", chatID), zap.Error(err))
	}
}
