// Package model defines data structures for the calendar assistant.
package model

import (
	"time"
)

// CandidateEvent describes an event that may not exist in the backend yet.
// It is produced by the intent classifier or the shift-file parser and is
// never mutated in place; handlers build new copies when merging fields.
type CandidateEvent struct {
	Title            string    `json:"title"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"all_day"`
	Recurrence       string    `json:"recurrence,omitempty"`
	ReminderMinutes  int       `json:"reminder_minutes,omitempty"`
	TargetCalendarID string    `json:"target_calendar_id,omitempty"`
}

// WithTitle returns a copy of the candidate with the title set.
func (e CandidateEvent) WithTitle(title string) CandidateEvent {
	e.Title = title
	return e
}

// WithRecurrence returns a copy of the candidate with the recurrence rule set.
func (e CandidateEvent) WithRecurrence(rule string) CandidateEvent {
	e.Recurrence = rule
	return e
}

// WithCalendar returns a copy of the candidate targeting the given calendar.
func (e CandidateEvent) WithCalendar(calendarID string) CandidateEvent {
	e.TargetCalendarID = calendarID
	return e
}

// EventPatch is a partial update to an existing event. Nil fields are left
// unchanged by the backend.
type EventPatch struct {
	Title           *string    `json:"title,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	AllDay          *bool      `json:"all_day,omitempty"`
	Recurrence      *string    `json:"recurrence,omitempty"`
	ReminderMinutes *int       `json:"reminder_minutes,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *EventPatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Title == nil && p.Start == nil && p.End == nil &&
		p.AllDay == nil && p.Recurrence == nil && p.ReminderMinutes == nil
}

// TimeWindow is a half-open [Start, End) search range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
