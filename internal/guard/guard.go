// Package guard protects calendar creation from duplicates and overlaps.
//
// Both checks key on exact title plus time match, never fuzzy matching, and
// are scoped to the single calendar the event will be written to.
package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

// Guard runs the duplicate and conflict checks against one backend.
type Guard struct {
	backend calendar.Service
	logger  *logger.Logger
}

// New creates a guard over the given backend.
func New(backend calendar.Service, log *logger.Logger) *Guard {
	return &Guard{backend: backend, logger: log}
}

// sameOccurrence reports whether an existing event is the same occurrence as
// the candidate: identical title, and for all-day events the same start
// date, for timed events the same start and end instants.
func sameOccurrence(existing calendar.Event, cand model.CandidateEvent) bool {
	if existing.Title != cand.Title {
		return false
	}
	if cand.AllDay {
		ey, em, ed := existing.Start.Date()
		cy, cm, cd := cand.Start.Date()
		return ey == cy && em == cm && ed == cd
	}
	return existing.Start.Equal(cand.Start) && existing.End.Equal(cand.End)
}

// checkWindow is the backend query window for a candidate. An all-day
// candidate often arrives with End unset, and a zero or inverted window
// makes the backend answer with no events, so all-day candidates always
// query their full calendar day.
func checkWindow(cand model.CandidateEvent) (time.Time, time.Time) {
	if cand.AllDay {
		y, m, d := cand.Start.Date()
		dayStart := time.Date(y, m, d, 0, 0, 0, 0, cand.Start.Location())
		return dayStart, dayStart.Add(24 * time.Hour)
	}
	return cand.Start, cand.End
}

// CheckDuplicate returns a *calendar.DuplicateError if an identical event
// already exists in the target calendar, nil otherwise.
func (g *Guard) CheckDuplicate(ctx context.Context, calendarID string, cand model.CandidateEvent) error {
	timeMin, timeMax := checkWindow(cand)
	res, err := g.backend.Search(ctx, calendarID, timeMin, timeMax, cand.Title)
	if err != nil {
		return fmt.Errorf("duplicate check search: %w", err)
	}
	for _, ev := range res.Events {
		if sameOccurrence(ev, cand) {
			metrics.DuplicatesDetected.Inc()
			g.logger.Info("duplicate event detected",
				zap.String("calendar_id", calendarID),
				zap.String("existing_id", ev.ID))
			return &calendar.DuplicateError{Existing: ev}
		}
	}
	return nil
}

// FindConflicts returns events already overlapping the candidate's window,
// excluding any event that is itself the same title+start so a re-run after
// the duplicate check does not report a false conflict against itself.
func (g *Guard) FindConflicts(ctx context.Context, calendarID string, cand model.CandidateEvent) ([]calendar.Event, error) {
	start, end := checkWindow(cand)
	overlapping, err := g.backend.FindInRange(ctx, calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("conflict check: %w", err)
	}

	var conflicts []calendar.Event
	for _, ev := range overlapping {
		if ev.Title == cand.Title && ev.Start.Equal(cand.Start) {
			continue
		}
		conflicts = append(conflicts, ev)
	}
	if len(conflicts) > 0 {
		metrics.ConflictsDetected.Inc()
	}
	return conflicts, nil
}

// CreateChecked runs the duplicate check, then the conflict check, then
// creates. A duplicate fails the create with *calendar.DuplicateError; a
// conflict is a soft stop returning the conflicting events with no creation
// performed. Confirmed re-creation after a soft stop goes through
// CreateConfirmed instead, which does not check again.
func (g *Guard) CreateChecked(ctx context.Context, calendarID string, cand model.CandidateEvent) (*calendar.Event, []calendar.Event, error) {
	if err := g.CheckDuplicate(ctx, calendarID, cand); err != nil {
		return nil, nil, err
	}

	conflicts, err := g.FindConflicts(ctx, calendarID, cand)
	if err != nil {
		return nil, nil, err
	}
	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	created, err := g.backend.Create(ctx, calendarID, cand)
	if err != nil {
		return nil, nil, fmt.Errorf("create event: %w", err)
	}
	return created, nil, nil
}

// CreateUnique runs only the duplicate check before creating. Bulk import
// uses it: overlap between imported shifts is expected there, so the
// conflict soft stop does not apply.
func (g *Guard) CreateUnique(ctx context.Context, calendarID string, cand model.CandidateEvent) (*calendar.Event, error) {
	if err := g.CheckDuplicate(ctx, calendarID, cand); err != nil {
		return nil, err
	}
	created, err := g.backend.Create(ctx, calendarID, cand)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return created, nil
}

// CreateConfirmed creates the original candidate after the user confirmed a
// conflict soft stop, without re-checking.
func (g *Guard) CreateConfirmed(ctx context.Context, calendarID string, cand model.CandidateEvent) (*calendar.Event, error) {
	created, err := g.backend.Create(ctx, calendarID, cand)
	if err != nil {
		return nil, fmt.Errorf("create confirmed event: %w", err)
	}
	return created, nil
}
