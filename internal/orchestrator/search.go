package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// defaultSearchHorizon bounds keyword searches when the intent carried no
// time window.
const defaultSearchHorizon = 30 * 24 * time.Hour

// searchAll fans a search out across every eligible calendar with bounded
// concurrency and returns the merged results sorted by start time.
//
// A single calendar's search failure is logged and contributes zero results;
// only all calendars failing surfaces as an error. Partial results are not
// flagged to the user.
func (o *Orchestrator) searchAll(ctx context.Context, window *model.TimeWindow, keyword string) ([]calendar.Event, bool, error) {
	cals, err := o.backend.ListEligibleCalendars(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list calendars: %w", err)
	}
	if len(cals) == 0 {
		return nil, false, nil
	}

	timeMin, timeMax := resolveWindow(window)

	var (
		mu       sync.Mutex
		events   []calendar.Event
		hasMore  bool
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.searchConcurrency)
	for _, cal := range cals {
		cal := cal
		g.Go(func() error {
			res, err := o.backend.Search(gctx, cal.ID, timeMin, timeMax, keyword)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Indistinguishable from zero matches downstream, by
				// decision; see DESIGN.md.
				failures++
				o.logger.Warn("calendar search failed",
					zap.String("calendar_id", cal.ID), zap.Error(err))
				return nil
			}
			events = append(events, res.Events...)
			hasMore = hasMore || res.HasMore
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	if failures == len(cals) {
		return nil, false, fmt.Errorf("all %d calendar searches failed", len(cals))
	}

	events = dedupe(events)
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, hasMore, nil
}

func resolveWindow(window *model.TimeWindow) (time.Time, time.Time) {
	if window != nil && !window.Start.IsZero() && !window.End.IsZero() {
		return window.Start, window.End
	}
	now := time.Now()
	if window != nil && !window.Start.IsZero() {
		return window.Start, window.Start.Add(defaultSearchHorizon)
	}
	return now, now.Add(defaultSearchHorizon)
}

// dedupe drops events reported twice under the same (calendar, id) pair;
// eventual consistency on the backend makes overlapping pages possible.
func dedupe(events []calendar.Event) []calendar.Event {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, ev := range events {
		key := ev.CalendarID + "\x00" + ev.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev)
	}
	return out
}
