// Package calendar defines the remote calendar backend contract.
//
// The backend is an opaque, eventually consistent CRUD service. Nothing in
// this package talks to the network; concrete clients implement Service.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// Event is an event that exists in the backend.
type Event struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"all_day"`
	Recurrence string    `json:"recurrence,omitempty"`
	HTMLLink   string    `json:"html_link,omitempty"`
}

// Calendar is one destination calendar the bot may write to.
type Calendar struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SearchResult carries one calendar's search page. HasMore reports a
// pagination continuation on the backend side.
type SearchResult struct {
	Events  []Event
	HasMore bool
}

// Service is the calendar backend consumed by the orchestrator. No automatic
// retries are performed; failures surface to the caller.
type Service interface {
	// Search finds events in one calendar by time window and keyword.
	Search(ctx context.Context, calendarID string, timeMin, timeMax time.Time, keyword string) (*SearchResult, error)

	// FindInRange lists events overlapping [start, end) in one calendar.
	FindInRange(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error)

	// Create inserts a new event into the calendar.
	Create(ctx context.Context, calendarID string, ev model.CandidateEvent) (*Event, error)

	// Update applies a partial patch to an existing event.
	Update(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (*Event, error)

	// Delete removes an event.
	Delete(ctx context.Context, calendarID, eventID string) error

	// ListEligibleCalendars returns the calendars the bot may read and write.
	ListEligibleCalendars(ctx context.Context) ([]Calendar, error)
}

// DuplicateError reports that an identical event (same title and time)
// already exists. It carries the pre-existing event so replies can link it.
type DuplicateError struct {
	Existing Event
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate event %q already exists (id %s)", e.Existing.Title, e.Existing.ID)
}
